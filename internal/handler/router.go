package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/learnstack/tutord/internal/middleware"
)

type RouterDeps struct {
	Chat     *ChatHandler
	Retrieve *RetrieveHandler
	Sources  *SourceHandler
	Classes  *ClassHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.Identity())

	authGroup.POST("/chat", deps.Chat.Chat)
	authGroup.GET("/conversations", deps.Chat.ListConversations)
	authGroup.GET("/conversations/:id", deps.Chat.GetConversation)
	authGroup.DELETE("/conversations/:id", deps.Chat.DeleteConversation)

	authGroup.POST("/retrieve", deps.Retrieve.Retrieve)

	authGroup.POST("/sources", deps.Sources.Ingest)
	authGroup.GET("/sources", deps.Sources.List)
	authGroup.GET("/sources/:id/status", deps.Sources.Status)
	authGroup.DELETE("/sources/:id", deps.Sources.Delete)

	authGroup.GET("/classes/:id/stats", deps.Classes.Stats)
	authGroup.DELETE("/classes/:id/chunks", deps.Classes.Wipe)
}
