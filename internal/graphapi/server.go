// Package graphapi exposes a read-only GraphQL surface over the
// catalog for operational inspection — node lookup, children
// listing, and aggregate storage stats — distinct from the
// REST/WebDAV control plane the file service drives.
package graphapi

import (
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"github.com/bit-hyperfs/hyperfs/internal/catalog"
	"github.com/bit-hyperfs/hyperfs/internal/fileservice"
)

// Deps are the dependencies the inspection schema reads from.
type Deps struct {
	Files *fileservice.Service
	Store *catalog.Store
}

// NewHandler builds the /graphql admin/inspection endpoint.
func NewHandler(d Deps) http.Handler {
	nodeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Node",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"parentId":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"name":          &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"kind":          &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"digest":        &graphql.Field{Type: graphql.String},
			"size":          &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"uploadTime":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"downloadCount": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	storageStatsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "StorageStats",
		Fields: graphql.Fields{
			"blobCount":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"totalBytes":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"totalRefs":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"savedBytes":  &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"node": &graphql.Field{
				Type: nodeType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					id := int64(p.Args["id"].(int))
					var n catalog.Node
					err := d.Store.View(p.Context, func(tx *catalog.Tx) error {
						got, err := tx.GetByID(id)
						n = got
						return err
					})
					if err != nil {
						return nil, err
					}
					return toNodeMap(n), nil
				},
			},
			"children": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(nodeType))),
				Args: graphql.FieldConfigArgument{
					"parentId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					parentID := int64(p.Args["parentId"].(int))
					children, err := d.Files.List(p.Context, parentID)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]any, len(children))
					for i, c := range children {
						out[i] = toNodeMap(c)
					}
					return out, nil
				},
			},
			"storageStats": &graphql.Field{
				Type: graphql.NewNonNull(storageStatsType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					var blobCount, totalBytes, totalRefs, savedBytes int64
					err := d.Store.View(p.Context, func(tx *catalog.Tx) error {
						digests, err := tx.ListAllDigests()
						if err != nil {
							return err
						}
						for _, digest := range digests {
							b, err := tx.LookupBlob(digest)
							if err != nil {
								continue
							}
							blobCount++
							totalBytes += b.Size
							totalRefs += b.Refcount
							if b.Refcount > 1 {
								savedBytes += b.Size * (b.Refcount - 1)
							}
						}
						return nil
					})
					if err != nil {
						return nil, err
					}
					return map[string]any{
						"blobCount":  blobCount,
						"totalBytes": totalBytes,
						"totalRefs":  totalRefs,
						"savedBytes": savedBytes,
					}, nil
				},
			},
		},
	})

	schema, _ := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	h := handler.New(&handler.Config{Schema: &schema, Pretty: true, GraphiQL: true})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ContextHandler(r.Context(), w, r)
	})
}

func toNodeMap(n catalog.Node) map[string]any {
	m := map[string]any{
		"id":            n.ID,
		"parentId":      n.ParentID,
		"name":          n.Name,
		"kind":          string(n.Kind),
		"size":          n.Size,
		"uploadTime":    n.UploadTimeMS,
		"downloadCount": n.DownloadCount,
	}
	if n.Digest != "" {
		m["digest"] = n.Digest
	}
	return m
}
