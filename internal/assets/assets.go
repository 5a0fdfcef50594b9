package assets

import (
	"os"
	"path/filepath"

	"fyne.io/fyne/v2"
	"github.com/rs/zerolog"
)

const (
	LogoFile = "logo.png"
	IconFile = "icon.png"
)

// Finder looks up branding images. Missing files are logged and reported
// as a nil resource; the visualizer runs without them.
type Finder struct {
	Dirs []string
	log  zerolog.Logger
}

// NewFinder searches the working directory, then the directory of the
// running executable.
func NewFinder(log zerolog.Logger) *Finder {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return &Finder{Dirs: dirs, log: log}
}

func (f *Finder) Logo() fyne.Resource {
	return f.load(LogoFile)
}

func (f *Finder) Icon() fyne.Resource {
	return f.load(IconFile)
}

func (f *Finder) load(name string) fyne.Resource {
	for _, dir := range f.Dirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		res, err := fyne.LoadResourceFromPath(path)
		if err != nil {
			f.log.Warn().Err(err).Str("path", path).Msg("Failed to load asset")
			continue
		}
		return res
	}
	f.log.Debug().Str("file", name).Strs("dirs", f.Dirs).Msg("Asset not found")
	return nil
}
