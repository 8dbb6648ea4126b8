// Package directory holds the list of applications the broker may launch to
// satisfy an intent nobody is listening for.
package directory

import (
	"fmt"
	"io"
	"os"
	"slices"

	json "github.com/goccy/go-json"
)

// Intent is an intent an application declares it can handle.
type Intent struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName,omitempty"`
	Contexts    []string `json:"contexts,omitempty"`
}

// App is one directory entry.
type App struct {
	AppID   string   `json:"appId,omitempty"`
	Name    string   `json:"name,omitempty"`
	URL     string   `json:"url"`
	Intents []Intent `json:"intents,omitempty"`
}

// Handles reports whether the app declares the named intent.
func (a App) Handles(intent string) bool {
	return slices.ContainsFunc(a.Intents, func(i Intent) bool { return i.Name == intent })
}

// Directory is an ordered, read-only list of applications.
type Directory []App

// FindByIntent returns the first app, in list order, that declares intent.
func (d Directory) FindByIntent(intent string) (App, bool) {
	idx := slices.IndexFunc(d, func(a App) bool { return a.Handles(intent) })
	if idx < 0 {
		return App{}, false
	}
	return d[idx], true
}

// Find returns the first app whose name, app id or URL equals name.
func (d Directory) Find(name string) (App, bool) {
	if name == "" {
		return App{}, false
	}
	idx := slices.IndexFunc(d, func(a App) bool {
		return a.Name == name || a.AppID == name || a.URL == name
	})
	if idx < 0 {
		return App{}, false
	}
	return d[idx], true
}

// Load decodes a JSON array of apps. Entries without a URL are rejected.
func Load(r io.Reader) (Directory, error) {
	var apps Directory
	if err := json.NewDecoder(r).Decode(&apps); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	for i, a := range apps {
		if a.URL == "" {
			return nil, fmt.Errorf("decode directory: app %d (%s) has no url", i, a.Name)
		}
	}
	return apps, nil
}

// LoadFile reads a directory from a JSON file.
func LoadFile(path string) (Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
