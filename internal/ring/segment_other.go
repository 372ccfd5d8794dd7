//go:build !unix

package ring

type mapping struct{ mem []byte }

func mapShared(string, int, bool) (*mapping, error) { return nil, ErrUnsupported }
func (*mapping) close() error                         { return nil }

type fileLock struct{}

func openLock(string) (*fileLock, error) { return nil, ErrUnsupported }
func (*fileLock) lock() error            { return ErrUnsupported }
func (*fileLock) unlock()                {}
func (*fileLock) close() error           { return nil }
