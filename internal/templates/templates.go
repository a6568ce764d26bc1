// Package templates holds the starter-template registry: the default file
// set a fresh project boots from, and any pre-built snapshot images that
// let a sandbox skip file restoration entirely.
package templates

import (
	"sort"
	"sync"
)

// Template describes one starter template.
type Template struct {
	Name  string
	Files map[string]string
	// SnapshotImages maps an environment tag (development, staging,
	// production) to a pre-built provider image containing the template.
	SnapshotImages map[string]string
}

// Registry stores templates by name.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry returns a registry seeded with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range builtinTemplates() {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.SnapshotImages == nil {
		t.SnapshotImages = map[string]string{}
	}
	r.templates[t.Name] = t
}

// Get returns a template by name.
func (r *Registry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// SnapshotImage returns the pre-built image for a template in the given
// environment, if one exists.
func (r *Registry) SnapshotImage(name, environment string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return "", false
	}
	img, ok := t.SnapshotImages[environment]
	return img, ok && img != ""
}

// SetSnapshotImage records a pre-built image for a template/environment.
func (r *Registry) SetSnapshotImage(name, environment, imageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[name]
	if !ok {
		return
	}
	t.SnapshotImages[environment] = imageID
	r.templates[name] = t
}

// Names returns all registered template names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func builtinTemplates() []Template {
	return []Template{
		{
			Name: "react",
			Files: map[string]string{
				"package.json": `{
  "name": "shipyard-app",
  "private": true,
  "scripts": {
    "dev": "vite",
    "build": "vite build"
  },
  "dependencies": {
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@vitejs/plugin-react": "^4.3.1",
    "vite": "^5.4.0"
  }
}
`,
				"index.html": `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <title>Shipyard App</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`,
				"vite.config.js": `import { defineConfig } from 'vite'
import react from '@vitejs/plugin-react'

export default defineConfig({
  plugins: [react()],
})
`,
				"src/main.jsx": `import React from 'react'
import ReactDOM from 'react-dom/client'
import App from './App.jsx'

ReactDOM.createRoot(document.getElementById('root')).render(<App />)
`,
				"src/App.jsx": `export default function App() {
  return <h1>Hello from Shipyard</h1>
}
`,
			},
		},
		{
			Name: "blog",
			Files: map[string]string{
				"package.json": `{
  "name": "shipyard-blog",
  "private": true,
  "scripts": {
    "dev": "vite",
    "build": "vite build"
  },
  "devDependencies": {
    "vite": "^5.4.0"
  }
}
`,
				"index.html": `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <title>Blog</title>
  </head>
  <body>
    <main id="app"><h1>My Blog</h1></main>
    <script type="module" src="/src/main.js"></script>
  </body>
</html>
`,
				"src/main.js": `document.querySelector('#app h1').textContent = 'My Blog'
`,
			},
		},
	}
}
