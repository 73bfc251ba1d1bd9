package hostsym

import "github.com/ebitengine/purego"

// Dlsym resolves names through the dynamic loader's global scope, the
// same namespace dlsym(RTLD_DEFAULT, ...) searches.
type Dlsym struct{}

func (Dlsym) Lookup(name string) (uintptr, bool) {
	addr, err := purego.Dlsym(purego.RTLD_DEFAULT, name)
	if err != nil || addr == 0 {
		return 0, false
	}

	return addr, true
}
