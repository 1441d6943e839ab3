package adminapi

import (
	"embed"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
)

// embeddedUI is a placeholder landing page: nsmesh has no browser UI,
// just a static page of links into the JSON API, so the embedded tree
// is a single index.html instead of a build output directory.
//
//go:embed dist/*
var embeddedUI embed.FS

func getEmbedFS() static.ServeFileSystem {
	fs, err := static.EmbedFolder(embeddedUI, "dist")
	if err != nil {
		panic("adminapi: failed to load embedded UI: " + err.Error())
	}
	return fs
}

// mountStatic serves the placeholder landing page at "/", leaving every
// "/api" and "/swagger" route alone.
func mountStatic(r *gin.Engine, logger *slog.Logger) {
	distFS := getEmbedFS()
	r.Use(static.Serve("/", distFS))

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.RequestURI, "/api") || strings.HasPrefix(c.Request.RequestURI, "/swagger") {
			return
		}
		index, err := distFS.Open("index.html")
		if err != nil {
			logger.Error("adminapi: failed to open index.html", "error", err)
			c.Status(http.StatusNotFound)
			return
		}
		defer index.Close()
		stat, _ := index.Stat()
		http.ServeContent(c.Writer, c.Request, "index.html", stat.ModTime(), index)
	})
}
