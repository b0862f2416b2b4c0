package overlay

// Surface is the visual host for one camera overlay. The real
// implementation lives in the display shell; the session only needs to
// show it, point it at successive snapshot files and close it.
type Surface interface {
	Show() error
	SetImage(path string) error
	Close()
}

// SurfaceFactory builds a surface for a camera when a session starts.
type SurfaceFactory func(cameraID string) Surface

// NopSurface is a surface that displays nothing. It keeps sessions fully
// functional on headless deployments and in tests.
type NopSurface struct{}

func (NopSurface) Show() error                { return nil }
func (NopSurface) SetImage(path string) error { return nil }
func (NopSurface) Close()                     {}
