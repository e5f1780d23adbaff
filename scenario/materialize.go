package scenario

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	// DescriptorExt is the extension of the canonical scenario descriptor.
	DescriptorExt = ".wml"
	// DefaultSuffixWidth is the number of trailing characters of the remote
	// scenario path that name the local copy. The service uses the same
	// convention.
	DefaultSuffixWidth = 7
)

// Materialized is a scenario copied locally.
type Materialized struct {
	Dir        string
	Descriptor string
}

// SuffixName returns the last width characters of the path, ignoring
// trailing separators. The whole path is returned when it is shorter.
func SuffixName(path string, width int) string {
	path = strings.TrimRight(path, "/"+string(filepath.Separator))

	if width <= 0 || len(path) <= width {
		return path
	}

	return path[len(path)-width:]
}

// Materializer copies the files of a remote scenario in a local directory.
type Materializer struct {
	width  int
	logger *zap.Logger
}

// NewMaterializer creates a materializer deriving directory names with the
// given suffix width.
func NewMaterializer(width int, logger *zap.Logger) *Materializer {
	if width <= 0 {
		width = DefaultSuffixWidth
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Materializer{width: width, logger: logger}
}

// Materialize copies the direct files of the remote path inside a
// subdirectory of the destination and finds the descriptor among them.
func (m *Materializer) Materialize(remote, dest string) (Materialized, error) {
	dir := filepath.Join(dest, SuffixName(remote, m.width))

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return Materialized{}, &MaterializationError{Source: remote, Reason: "create directory", Err: err}
	}

	entries, err := os.ReadDir(remote)
	if err != nil {
		return Materialized{}, &MaterializationError{Source: remote, Reason: "list files", Err: err}
	}

	descriptors := []string{}

	for _, entry := range entries {
		// Symbolic links count for the file they point to.
		info, err := os.Stat(filepath.Join(remote, entry.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		target := filepath.Join(dir, entry.Name())

		err = copyFile(filepath.Join(remote, entry.Name()), target)
		if err != nil {
			return Materialized{}, &MaterializationError{Source: remote, Reason: "copy " + entry.Name(), Err: err}
		}

		m.logger.Debug("scenario file copied", zap.String("file", target))

		if strings.HasSuffix(entry.Name(), DescriptorExt) {
			descriptors = append(descriptors, target)
		}
	}

	switch len(descriptors) {
	case 0:
		return Materialized{}, &MaterializationError{Source: remote, Reason: "no " + DescriptorExt + " descriptor"}
	case 1:
		return Materialized{Dir: dir, Descriptor: descriptors[0]}, nil
	default:
		return Materialized{}, &MaterializationError{
			Source: remote,
			Reason: "ambiguous descriptor: " + strings.Join(descriptors, ", "),
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}

	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
