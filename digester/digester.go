package digester

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// chunkSize is the read size used when streaming file
// content into the hash.
const chunkSize = 4096

// Algorithm names a supported 256-bit digest function.
type Algorithm string

const (
	// SHA256 is the default algorithm.
	SHA256 Algorithm = "sha256"
	// BLAKE3 uses the 32-byte BLAKE3 output.
	BLAKE3 Algorithm = "blake3"
)

var (
	// ErrNotRegular is returned when the digested path is
	// a directory, device, socket or other non-regular
	// file.
	ErrNotRegular = errors.New("not a regular file")

	// ErrUnknownAlgorithm is returned for unsupported
	// algorithm names.
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
)

// ParseAlgorithm maps a case-insensitive name to an
// Algorithm. Empty input selects SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf(
			"%w: %q", ErrUnknownAlgorithm, name,
		)
	}
}

// Digester computes hex digests of files read through an
// afero filesystem.
type Digester struct {
	fs   afero.Fs
	algo Algorithm
}

// New returns a Digester reading from fs with the given
// algorithm.
func New(fs afero.Fs, algo Algorithm) (*Digester, error) {
	const errCtx = "creating digester"

	if fs == nil {
		return nil, fmt.Errorf(
			"%s: filesystem must be set", errCtx,
		)
	}

	if _, err := algo.newHash(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &Digester{fs: fs, algo: algo}, nil
}

// Algorithm returns the configured algorithm.
func (d *Digester) Algorithm() Algorithm {
	return d.algo
}

// CalculateDigest computes the lowercase hex digest of the
// regular file at path.
func (d *Digester) CalculateDigest(path string) (result string, retErr error) {
	const errCtx = "calculating digest"

	fi, err := d.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if closeErr := fi.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("%s: %w", errCtx, closeErr)
		}
	}()

	st, err := fi.Stat()
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if !st.Mode().IsRegular() {
		return "", fmt.Errorf(
			"%s: %s: %w", errCtx, path, ErrNotRegular,
		)
	}

	ha, err := d.algo.newHash()
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	// Hide WriterTo on the file so reads stay chunkSize.
	src := struct{ io.Reader }{fi}

	if _, err := io.CopyBuffer(
		ha, src, make([]byte, chunkSize),
	); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return hex.EncodeToString(ha.Sum(nil)), nil
}

// VerifyDigest reports whether the current digest of the
// file at path equals expected.
func (d *Digester) VerifyDigest(path string, expected string) (bool, error) {
	const errCtx = "verifying digest"

	calc, err := d.CalculateDigest(path)
	if err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	return calc == strings.ToLower(expected), nil
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf(
			"%w: %q", ErrUnknownAlgorithm, string(a),
		)
	}
}
