package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/service"
)

// listMovies serves the effective catalog view.
//
// Query parameters: search, category, where (repeatable, e.g.
// "year greaterThan 1990", "or", "title contains-insensitive matrix"),
// sort (title|year|rating), order (asc|desc), page (1-based, 0 for all)
// and pageSize.
func (s *Server) listMovies(c *gin.Context) {
	page, errPage := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, errSize := strconv.Atoi(c.DefaultQuery("pageSize", "0"))
	if errPage != nil || errSize != nil {
		abortError(c, http.StatusBadRequest, "page and pageSize must be integers")
		return
	}
	order := c.DefaultQuery("order", "asc")
	if order != "asc" && order != "desc" {
		abortError(c, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	res, err := s.catalog.List(c.Request.Context(), service.ListOptions{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		Where:    c.QueryArray("where"),
		SortBy:   c.Query("sort"),
		Desc:     order == "desc",
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getMovie(c *gin.Context) {
	m, err := s.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) categories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": s.catalog.Categories(c.Request.Context())})
}

func (s *Server) addMovie(c *gin.Context) {
	var m model.Movie
	if err := c.ShouldBindJSON(&m); err != nil {
		abortError(c, http.StatusBadRequest, "invalid movie: "+err.Error())
		return
	}
	added, err := s.catalog.Add(c.Request.Context(), m)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, added)
}

// updateMovie edits the movie named by the path; the body ID is ignored.
func (s *Server) updateMovie(c *gin.Context) {
	var m model.Movie
	if err := c.ShouldBindJSON(&m); err != nil {
		abortError(c, http.StatusBadRequest, "invalid movie: "+err.Error())
		return
	}
	m.ID = c.Param("id")
	updated, err := s.catalog.Update(c.Request.Context(), m)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// removeMovie responds with the removed record so the caller can offer undo
// through restoreMovie.
func (s *Server) removeMovie(c *gin.Context) {
	m, ok, err := s.catalog.Remove(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		abortError(c, http.StatusNotFound, "movie not found")
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) restoreMovie(c *gin.Context) {
	var m model.Movie
	if err := c.ShouldBindJSON(&m); err != nil {
		abortError(c, http.StatusBadRequest, "invalid movie: "+err.Error())
		return
	}
	if err := s.catalog.Restore(c.Request.Context(), m); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
