package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragpipe/internal/pkg/errcode"
	"github.com/xxxsen/ragpipe/internal/pkg/response"
	"github.com/xxxsen/ragpipe/internal/service"
)

type QueryHandler struct {
	query *service.QueryService
}

func NewQueryHandler(query *service.QueryService) *QueryHandler {
	return &QueryHandler{query: query}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (h *QueryHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	res, err := h.query.Search(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *QueryHandler) Query(c *gin.Context) {
	var req service.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	res, err := h.query.Answer(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}
