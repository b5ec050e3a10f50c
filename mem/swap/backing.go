package swap

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultDeviceName is the name of the raw disk that holds swap.
const DefaultDeviceName = "lhd0raw:"

// A Backing is the object that swapped pages are stored in. Slot i lives at
// byte offset i*PageSize. There is no header.
type Backing interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the length of the object in bytes.
	Size() (int64, error)
}

// An Opener opens the backing object of the given device name.
type Opener interface {
	Open(name string) (Backing, error)
}

// OpenerFunc lets an ordinary function act as an Opener.
type OpenerFunc func(name string) (Backing, error)

// Open calls f.
func (f OpenerFunc) Open(name string) (Backing, error) {
	return f(name)
}

// FileOpener maps the swap device to a host file. The file is created if it
// does not exist and extended to Size bytes if it is shorter.
type FileOpener struct {
	Path string
	Size int64
}

// Open opens the host file.
func (o FileOpener) Open(name string) (Backing, error) {
	if o.Path == "" {
		return nil, fmt.Errorf("no file configured for swap device %s", name)
	}

	f, err := os.OpenFile(o.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}

	if info.Size() < o.Size {
		if err := f.Truncate(o.Size); err != nil {
			return nil, errors.Join(err, f.Close())
		}
	}

	return &fileBacking{File: f}, nil
}

type fileBacking struct {
	*os.File
}

func (b *fileBacking) Size() (int64, error) {
	info, err := b.Stat()
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}
