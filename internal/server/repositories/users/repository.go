package users

import (
	"context"

	"github.com/dmitrijs2005/authsession/internal/server/models"
)

type Repository interface {
	// Create inserts the user and fills in ID and CreatedAt.
	// A taken username yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// AddRoles grants roles to an existing user; already granted roles are ignored.
	AddRoles(ctx context.Context, userID int64, roles []string) error
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
}
