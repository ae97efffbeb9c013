package handler

import (
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragpipe/internal/middleware"
	"github.com/xxxsen/ragpipe/internal/model"
	"github.com/xxxsen/ragpipe/internal/pkg/errcode"
	"github.com/xxxsen/ragpipe/internal/pkg/response"
	"github.com/xxxsen/ragpipe/internal/service"
)

type TaskHandler struct {
	tasks          *service.TaskService
	maxUploadBytes int64
}

func NewTaskHandler(tasks *service.TaskService, maxUploadBytes int64) *TaskHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &TaskHandler{tasks: tasks, maxUploadBytes: maxUploadBytes}
}

type createTaskRequest struct {
	FileName    string  `json:"file_name"`
	FileContent *string `json:"file_content"`
}

type updateTaskRequest struct {
	Status         *string `json:"status"`
	ErrorMessage   *string `json:"error_message"`
	EmbeddingCount *int    `json:"embedding_count"`
}

func (h *TaskHandler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	var content []byte
	if req.FileContent != nil {
		if int64(len(*req.FileContent)) > h.maxUploadBytes {
			response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxUploadBytes))
			return
		}
		content = []byte(*req.FileContent)
	}
	task, err := h.tasks.Submit(c.Request.Context(), req.FileName, content)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, task)
}

func (h *TaskHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if file.Size > h.maxUploadBytes {
		response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxUploadBytes))
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()
	content, err := io.ReadAll(io.LimitReader(opened, h.maxUploadBytes+1))
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	if int64(len(content)) > h.maxUploadBytes {
		response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxUploadBytes))
		return
	}
	name := strings.TrimSpace(c.PostForm("file_name"))
	if name == "" {
		name = file.Filename
	}
	task, err := h.tasks.Submit(c.Request.Context(), name, content)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, task)
}

func (h *TaskHandler) List(c *gin.Context) {
	var filter model.TaskFilter
	if value := c.Query("status"); value != "" {
		status := model.ParseTaskStatus(value)
		if !status.Valid() {
			response.Error(c, errcode.ErrInvalid, "invalid status")
			return
		}
		filter.Status = &status
	}
	if value := c.Query("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			response.Error(c, errcode.ErrInvalid, "invalid limit")
			return
		}
		filter.Limit = parsed
	}
	if value := c.Query("offset"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			response.Error(c, errcode.ErrInvalid, "invalid offset")
			return
		}
		filter.Offset = parsed
	}
	items, err := h.tasks.List(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	if items == nil {
		items = []*model.Task{}
	}
	response.Success(c, items)
}

func (h *TaskHandler) Get(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, task)
}

// Update applies a partial status update. force=true bypasses the forward-only
// rule and needs an admin token.
func (h *TaskHandler) Update(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))
	if force && !middleware.IsAdmin(c) {
		response.Error(c, errcode.ErrForbidden, "force requires admin")
		return
	}
	upd := model.TaskUpdate{ErrorMessage: req.ErrorMessage, EmbeddingCount: req.EmbeddingCount}
	if req.Status != nil {
		status := model.ParseTaskStatus(*req.Status)
		if !status.Valid() {
			response.Error(c, errcode.ErrInvalid, "invalid status")
			return
		}
		upd.Status = &status
	}
	task, err := h.tasks.Update(c.Request.Context(), id, upd, force)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, task)
}

func (h *TaskHandler) Delete(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	if err := h.tasks.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

func (h *TaskHandler) Retry(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	task, err := h.tasks.Retry(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, task)
}
