package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/constants"
	"github.com/nfps-dev/nfp-bootloader/internal/contract"
	"github.com/spf13/afero"
)

type rawData struct {
	Bytes           []byte `json:"bytes"`
	ContentType     string `json:"content_type,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	Metadata        string `json:"metadata,omitempty"`
}

type packageVersion struct {
	Data     rawData  `json:"data"`
	Tags     []string `json:"tags,omitempty"`
	Metadata string   `json:"metadata,omitempty"`
	Access   string   `json:"access"`
}

type packageVersionAnswer struct {
	Package *packageVersion `json:"package"`
}

// The contract wraps its answer in the query name; some gateways strip it.
type packageVersionEnvelope struct {
	PackageVersion *packageVersionAnswer `json:"package_version"`
	packageVersionAnswer
}

// ContractSource fetches packages stored on the token's contract.
type ContractSource struct {
	Contract *contract.Contract
}

func (s ContractSource) Fetch(ctx context.Context, req Request) (*Module, error) {
	args := map[string]any{
		"package_id": req.Package.ID,
		"token_id":   req.Location.TokenID,
	}
	if req.Package.Tag != "" {
		args["tag"] = req.Package.Tag
	}

	var env packageVersionEnvelope
	if err := s.Contract.Query(ctx, "package_version", args, req.Credential, &env); err != nil {
		return nil, err
	}
	ans := env.packageVersionAnswer
	if env.PackageVersion != nil {
		ans = *env.PackageVersion
	}
	if ans.Package == nil {
		return nil, errors.Wrapf(ErrPackageNotFound, "%s on %s", req.Package, s.Contract.Address)
	}

	data := ans.Package.Data
	code, err := decodeContent(data.Bytes, data.ContentEncoding)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", req.Package)
	}
	version := ans.Package.Metadata
	if version == "" {
		version = req.Package.Tag
	}
	return newModule(req.Package, OriginContract, version, data.ContentType, code), nil
}

func decodeContent(b []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return b, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, errors.Newf("unsupported content encoding %q", encoding)
	}
}

// FileSource reads development builds named <id>.dev.js from Dir.
type FileSource struct {
	Fs  afero.Fs
	Dir string
}

func (s FileSource) Fetch(_ context.Context, req Request) (*Module, error) {
	if err := req.Package.Validate(); err != nil {
		return nil, err
	}
	fs := s.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	path := filepath.Join(s.Dir, req.Package.ID+constants.DevScriptSuffix)
	code, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrPackageNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return newModule(req.Package, OriginFile, "dev", "application/javascript", code), nil
}
