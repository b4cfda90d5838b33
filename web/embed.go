package web

import (
	"embed"
	"io/fs"
)

//go:embed all:templates all:migrations
var content embed.FS

func MigrationsFS() fs.FS {
	return content
}

// EmailTemplateFS is rooted at templates/email.
func EmailTemplateFS() fs.FS {
	sub, err := fs.Sub(content, "templates/email")
	if err != nil {
		panic(err)
	}
	return sub
}
