package objfmt

import "io"

// Blob is an opaque byte sequence; the codec never interprets its contents.
type Blob struct {
	Contents []byte
}

func (b *Blob) Type() ObjectType { return BlobObject }

func (b *Blob) Body(w io.Writer) error {
	_, err := w.Write(b.Contents)
	return err
}

func (b *Blob) Size() int64 { return int64(len(b.Contents)) }
