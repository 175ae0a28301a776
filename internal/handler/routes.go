package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"mdstore/internal/svc"
)

// RegisterHandlers wires the storage protocol endpoints. All endpoints
// are POST with format-negotiated bodies; the auth middleware resolves
// bearer tokens into permission sets.
func RegisterHandlers(server *rest.Server, svcCtx *svc.ServiceContext) {
	server.AddRoutes(
		rest.WithMiddlewares(
			[]rest.Middleware{AuthMiddleware(svcCtx)},
			[]rest.Route{
				{
					Method:  http.MethodPost,
					Path:    "/securities/lookup",
					Handler: SecuritiesLookupHandler(svcCtx),
				},
				{
					Method:  http.MethodPost,
					Path:    "/securities/datatypes",
					Handler: DataTypesHandler(svcCtx),
				},
				{
					Method:  http.MethodPost,
					Path:    "/storage/dates",
					Handler: DatesHandler(svcCtx),
				},
				{
					Method:  http.MethodPost,
					Path:    "/storage/load",
					Handler: LoadHandler(svcCtx),
				},
				{
					Method:  http.MethodPost,
					Path:    "/storage/save",
					Handler: SaveHandler(svcCtx),
				},
				{
					Method:  http.MethodPost,
					Path:    "/storage/delete",
					Handler: DeleteHandler(svcCtx),
				},
			}...,
		),
		rest.WithPrefix("/api/v1"),
	)
}
