package proto

import (
	"io"
)

// Reader walks the frames dund writes back. A single read may carry several
// concatenated frames and the last one may be cut anywhere.
type Reader struct {
	r   io.Reader
	buf []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, buf: make([]byte, MaxIPCMsgLen)}
}

// ReadBatch issues one read and passes every frame it contains to fn, in
// order. A frame cut at the end of the read is completed with a blocking
// read of exactly the missing bytes before it is parsed. pl.Data is only
// valid for the duration of fn.
func (fr *Reader) ReadBatch(fn func(pl *Payload) error) error {
	n, rerr := fr.r.Read(fr.buf)
	if n == 0 {
		return rerr
	}

	idx, end := 0, n
	for idx < end {
		var err error
		if end-idx < HeaderSize {
			if idx, end, err = fr.fill(idx, end, HeaderSize); err != nil {
				return err
			}
		}
		typ, l, err := ParseHeader(fr.buf[idx:end])
		if err != nil {
			return err
		}
		if idx+HeaderSize+l > end {
			if idx, end, err = fr.fill(idx, end, HeaderSize+l); err != nil {
				return err
			}
		}
		pl := Payload{Type: typ, Data: fr.buf[idx+HeaderSize : idx+HeaderSize+l]}
		if err = fn(&pl); err != nil {
			return err
		}
		idx += HeaderSize + l
	}
	return rerr
}

// fill moves the partial frame at buf[idx:end] to the front and reads until
// need bytes of it are present. io.ReadFull loops on short reads.
func (fr *Reader) fill(idx, end, need int) (int, int, error) {
	if idx > 0 {
		copy(fr.buf, fr.buf[idx:end])
		end -= idx
	}
	if _, err := io.ReadFull(fr.r, fr.buf[end:need]); err != nil {
		return 0, 0, err
	}
	return 0, need, nil
}
