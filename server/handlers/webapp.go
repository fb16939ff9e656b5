package handlers

import (
	"flag"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/julienschmidt/httprouter"
)

var webBuild = flag.String("web_build", "", "`build` folder for web app")

// createWebApp serves every file of the web build and returns the handler
// for its index page, or nil without a build.
func createWebApp(r Router) httprouter.Handle {
	if *webBuild == "" {
		return nil
	}
	err := fs.WalkDir(os.DirFS(*webBuild), ".",
		func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || path == "index.html" {
				return nil
			}

			filePath := filepath.Join(*webBuild, path)
			r.GET("/"+path, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
				http.ServeFile(w, r, filePath)
			})
			return nil
		},
	)
	if err != nil {
		panic(err)
	}
	index := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		http.ServeFile(w, r, filepath.Join(*webBuild, "index.html"))
	}
	r.GET("/", index)
	return index
}
