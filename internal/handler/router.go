package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/middleware"
	"github.com/noah-isme/libsync-api/internal/models"
)

// Routes bundles the handlers and guards mounted by Register.
type Routes struct {
	Objects  *ObjectHandler
	Tags     *TagHandler
	Settings *SettingHandler
	Keys     *KeyHandler
	Metrics  *MetricsHandler

	// Auth attaches the key principal; Superuser guards login-session completion.
	Auth      gin.HandlerFunc
	Superuser gin.HandlerFunc
	// Cache and Audit are optional.
	Cache gin.HandlerFunc
	Audit gin.HandlerFunc
}

// Register mounts ops, key and library routes. Every library route exists under /users/:libraryID and
// /groups/:libraryID, and every GET also answers HEAD.
func Register(r gin.IRouter, routes Routes) {
	if routes.Metrics != nil {
		r.GET("/health", routes.Metrics.Health)
		r.GET("/ready", routes.Metrics.Ready)
		r.GET("/metrics", routes.Metrics.Prometheus)
	}

	keys := r.Group("/keys")
	keys.POST("/sessions", routes.Keys.CreateSession)
	keys.GET("/sessions/:token", routes.Keys.GetSession)
	keys.DELETE("/sessions/:token", routes.Keys.CancelSession)
	keys.POST("/sessions/:token/complete", routes.Superuser, routes.Keys.CompleteSession)
	keys.GET("/current", routes.Auth, middleware.RequireKey(), routes.Keys.Current)

	for _, libraryType := range []models.LibraryType{models.LibraryUser, models.LibraryGroup} {
		library := r.Group("/"+string(libraryType)+"s/:libraryID",
			routes.Auth,
			middleware.Library(libraryType),
			middleware.RequireLibraryAccess(),
		)
		registerLibrary(library, routes)
	}
}

func registerLibrary(r *gin.RouterGroup, routes Routes) {
	objects := routes.Objects
	listing := []gin.HandlerFunc{}
	if routes.Cache != nil {
		listing = append(listing, routes.Cache)
	}
	writes := []gin.HandlerFunc{}
	if routes.Audit != nil {
		writes = append(writes, routes.Audit)
	}
	list := func(path string, h gin.HandlerFunc) {
		read(r, path, append(append([]gin.HandlerFunc{}, listing...), h)...)
	}
	write := func(method, path string, h gin.HandlerFunc) {
		r.Handle(method, path, append(append([]gin.HandlerFunc{}, writes...), h)...)
	}

	for _, objectType := range []models.ObjectType{models.ObjectCollection, models.ObjectItem, models.ObjectSearch} {
		base := "/" + objectType.Plural()
		list(base, objects.List(objectType, nil))
		read(r, base+"/:key", objects.Get(objectType))
		write(http.MethodPost, base, objects.Create(objectType))
		write(http.MethodPut, base+"/:key", objects.Replace(objectType))
		write(http.MethodPatch, base+"/:key", objects.Update(objectType))
		write(http.MethodDelete, base+"/:key", objects.Delete(objectType))
		write(http.MethodDelete, base, objects.DeleteMany(objectType))
	}

	list("/collections/top", objects.List(models.ObjectCollection, topLevel))
	list("/collections/:key/collections", objects.List(models.ObjectCollection, childrenOfKey))
	list("/collections/:key/items", objects.List(models.ObjectItem, inCollection))
	list("/collections/:key/items/top", objects.List(models.ObjectItem, topInCollection))
	list("/items/top", objects.List(models.ObjectItem, topLevel))
	list("/items/trash", objects.List(models.ObjectItem, trashed))
	list("/items/:key/children", objects.List(models.ObjectItem, childrenOfKey))

	read(r, "/tags", routes.Tags.List(nil))
	read(r, "/tags/:tag", routes.Tags.Get)
	read(r, "/items/tags", routes.Tags.List(nil))
	read(r, "/items/top/tags", routes.Tags.List(topLevel))
	read(r, "/collections/:key/tags", routes.Tags.List(inCollection))
	write(http.MethodDelete, "/tags", routes.Tags.Delete)

	read(r, "/settings", routes.Settings.List)
	read(r, "/settings/:name", routes.Settings.Get)
	write(http.MethodPost, "/settings", routes.Settings.WriteMany)
	write(http.MethodPut, "/settings/:name", routes.Settings.Put)
	write(http.MethodDelete, "/settings/:name", routes.Settings.Delete)

	read(r, "/deleted", objects.Deleted)
}

func read(r *gin.RouterGroup, path string, handlers ...gin.HandlerFunc) {
	r.GET(path, handlers...)
	r.HEAD(path, handlers...)
}

func topLevel(c *gin.Context) dto.ListScope { return dto.ListScope{Top: true} }

func trashed(c *gin.Context) dto.ListScope { return dto.ListScope{Trash: true} }

func childrenOfKey(c *gin.Context) dto.ListScope { return dto.ListScope{ParentKey: c.Param("key")} }

func inCollection(c *gin.Context) dto.ListScope {
	return dto.ListScope{CollectionKey: c.Param("key")}
}

func topInCollection(c *gin.Context) dto.ListScope {
	return dto.ListScope{CollectionKey: c.Param("key"), Top: true}
}
