package model

import "sort"

// Application is a runnable unit scheduled onto a single Node. Fields
// beyond Name, Image, and Volume are opaque to the core: callers set
// them from the desired configuration and the core round-trips them
// unchanged (ports, links, environment).
type Application struct {
	Name   string          `json:"name"`
	Image  string          `json:"image"`
	Volume *AttachedVolume `json:"volume,omitempty"`

	// Opaque carries any fields the core does not interpret (ports,
	// links, environment, ...), round-tripped verbatim.
	Opaque map[string]any `json:"opaque,omitempty"`
}

// NewApplication builds an Application with a defensive copy of Opaque.
func NewApplication(name, image string, volume *AttachedVolume, opaque map[string]any) Application {
	var opaqueCopy map[string]any
	if opaque != nil {
		opaqueCopy = make(map[string]any, len(opaque))
		for k, v := range opaque {
			opaqueCopy[k] = v
		}
	}
	return Application{Name: name, Image: image, Volume: volume, Opaque: opaqueCopy}
}

// Manifestation returns the Manifestation attached to this application, if
// any, and whether one was present.
func (a Application) Manifestation() (Manifestation, bool) {
	if a.Volume == nil {
		return Manifestation{}, false
	}
	return a.Volume.Manifestation, true
}

func sortApplications(apps []Application) []Application {
	out := append([]Application(nil), apps...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
