//go:build !linux

package rfcomm

type ProfileListener struct{}

func Listen(_ Options) (*ProfileListener, error) {
	return nil, ErrUnsupported
}

func (l *ProfileListener) Accept(_ <-chan struct{}) (Socket, error) {
	return nil, ErrUnsupported
}

func (l *ProfileListener) Close() error {
	return nil
}
