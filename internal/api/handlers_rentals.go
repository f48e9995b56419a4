package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ucasvieira/locadora/internal/model"
)

func (s *Server) listRentals(c *gin.Context) {
	rentals, err := s.rentals.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rentals": rentals})
}

func (s *Server) createRental(c *gin.Context) {
	var r model.Rental
	if err := c.ShouldBindJSON(&r); err != nil {
		abortError(c, http.StatusBadRequest, "invalid rental: "+err.Error())
		return
	}
	created, err := s.rentals.Create(c.Request.Context(), r)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) updateRental(c *gin.Context) {
	var patch model.RentalPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortError(c, http.StatusBadRequest, "invalid patch: "+err.Error())
		return
	}
	r, err := s.rentals.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) deleteRental(c *gin.Context) {
	ok, err := s.rentals.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		abortError(c, http.StatusNotFound, "rental not found")
		return
	}
	c.Status(http.StatusNoContent)
}
