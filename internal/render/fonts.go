package render

import (
	"os"
	"sync"

	"golang.org/x/image/font/gofont/goregular"
)

// FallbackFont is the name under which the built-in sans-serif is
// registered in every composed document.
const FallbackFont = "signflow-fallback"

// Registry maps font family names to TTF files. Resolution never
// fails: a missing or unreadable file falls back to the built-in
// sans-serif so rendering can always proceed.
type Registry struct {
	mu    sync.RWMutex
	paths map[string]string
	cache map[string][]byte
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		paths: make(map[string]string),
		cache: make(map[string][]byte),
	}
}

// Register maps a font family name to a TTF file path.
func (r *Registry) Register(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[name] = path
}

// FallbackTTF returns the built-in font bytes.
func (r *Registry) FallbackTTF() []byte {
	return goregular.TTF
}

// Resolve returns the registered font name and TTF bytes for the given
// family. When the family is unknown or its file cannot be read it
// returns the fallback font and ok=false; it never errors.
func (r *Registry) Resolve(name string) (string, []byte, bool) {
	if name == "" {
		return FallbackFont, goregular.TTF, false
	}

	r.mu.RLock()
	data, cached := r.cache[name]
	path, registered := r.paths[name]
	r.mu.RUnlock()

	if cached {
		return name, data, true
	}
	if !registered {
		return FallbackFont, goregular.TTF, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FallbackFont, goregular.TTF, false
	}

	r.mu.Lock()
	r.cache[name] = data
	r.mu.Unlock()
	return name, data, true
}
