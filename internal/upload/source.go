package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// FileSource is one file of an upload batch.
type FileSource struct {
	Name   string
	Size   int64
	Type   string
	Reader io.ReaderAt
}

// OpenFile opens path for upload. The caller closes the returned file.
func OpenFile(path string) (FileSource, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileSource{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return FileSource{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return FileSource{}, nil, fmt.Errorf("%s is a directory", path)
	}
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return FileSource{}, nil, fmt.Errorf("detect type of %s: %w", path, err)
	}
	return FileSource{
		Name:   filepath.Base(path),
		Size:   info.Size(),
		Type:   mtype.String(),
		Reader: f,
	}, f, nil
}

// FromBytes wraps in-memory content as a FileSource.
func FromBytes(name string, data []byte) FileSource {
	return FileSource{
		Name:   name,
		Size:   int64(len(data)),
		Type:   DetectMIME(data),
		Reader: bytes.NewReader(data),
	}
}

// DetectMIME sniffs the media type from the leading bytes.
func DetectMIME(head []byte) string {
	return mimetype.Detect(head).String()
}
