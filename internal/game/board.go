package game

import (
	"errors"
	"fmt"
)

const (
	BoardWidth = 10
	BoardCells = BoardWidth * BoardWidth
)

var ErrInvalidSetup = errors.New("game: invalid setup")

// Fleet is the vessel sizes every setup must place.
var Fleet = map[CellValue]int{
	Carrier:    5,
	Battleship: 4,
	Cruiser:    3,
	Submarine:  3,
	Destroyer:  2,
}

// CellIndex is x + 10y.
func CellIndex(x, y int) (uint8, error) {
	if x < 0 || x >= BoardWidth || y < 0 || y >= BoardWidth {
		return 0, fmt.Errorf("cell (%d,%d) is off the board", x, y)
	}
	return uint8(x + y*BoardWidth), nil
}

func CellCoords(cell uint8) (x, y int) {
	return int(cell) % BoardWidth, int(cell) / BoardWidth
}

// ValidateSetup checks a home board: 100 cells, every vessel placed once as a straight,
// contiguous run of its size, and nothing else on the board.
func ValidateSetup(cells []CellValue) error {
	if len(cells) != BoardCells {
		return fmt.Errorf("%w: %d cells, want %d", ErrInvalidSetup, len(cells), BoardCells)
	}

	placed := make(map[CellValue][]int, len(Fleet))
	for i, c := range cells {
		switch {
		case c == Empty:
		case c.Vessel():
			placed[c] = append(placed[c], i)
		default:
			x, y := CellCoords(uint8(i))
			return fmt.Errorf("%w: %s at (%d,%d)", ErrInvalidSetup, c, x, y)
		}
	}

	var errs []error
	for _, vessel := range []CellValue{Carrier, Battleship, Cruiser, Submarine, Destroyer} {
		if err := checkRun(vessel, placed[vessel]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSetup, errors.Join(errs...))
	}
	return nil
}

// checkRun expects idx sorted ascending, which the board scan guarantees.
func checkRun(vessel CellValue, idx []int) error {
	size := Fleet[vessel]
	if len(idx) != size {
		return fmt.Errorf("%s covers %d cells, want %d", vessel, len(idx), size)
	}

	x0, y0 := CellCoords(uint8(idx[0]))
	horizontal, vertical := true, true
	for k, i := range idx {
		x, y := CellCoords(uint8(i))
		if y != y0 || x != x0+k {
			horizontal = false
		}
		if x != x0 || y != y0+k {
			vertical = false
		}
	}
	if !horizontal && !vertical {
		return fmt.Errorf("%s is not a straight contiguous line", vessel)
	}
	return nil
}

// Place writes a vessel onto cells starting at (x, y). It does not check for overlap with
// other vessels; ValidateSetup does.
func Place(cells []CellValue, vessel CellValue, x, y int, vertical bool) error {
	size, ok := Fleet[vessel]
	if !ok {
		return fmt.Errorf("%s is not a vessel", vessel)
	}
	if len(cells) != BoardCells {
		return fmt.Errorf("board has %d cells, want %d", len(cells), BoardCells)
	}
	for k := 0; k < size; k++ {
		cx, cy := x+k, y
		if vertical {
			cx, cy = x, y+k
		}
		i, err := CellIndex(cx, cy)
		if err != nil {
			return fmt.Errorf("%s: %w", vessel, err)
		}
		cells[i] = vessel
	}
	return nil
}
