package app

import (
	"fmt"
	"mime"
)

// staticTypes are the extensions served from web/static. Minimal container
// images ship without /etc/mime.types, so they are registered at start.
var staticTypes = map[string]string{
	".css":   "text/css; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".woff2": "font/woff2",
}

func init() {
	if err := registerStaticTypes(); err != nil {
		panic(err)
	}
}

func registerStaticTypes() error {
	for ext, typ := range staticTypes {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			return fmt.Errorf("app: register mime type %s: %w", ext, err)
		}
	}
	return nil
}
