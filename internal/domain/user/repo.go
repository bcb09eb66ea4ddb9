package user

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// FindByIdentifier matches a normalized email or E.164 phone number.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
	ListDoctors(ctx context.Context) ([]*User, error)

	CreateDevice(ctx context.Context, d *DeviceToken) error
	GetDevice(ctx context.Context, id uuid.UUID) (*DeviceToken, error)
	ListDevices(ctx context.Context, userID uuid.UUID) ([]*DeviceToken, error)
	TouchDevice(ctx context.Context, id uuid.UUID) error
	DeleteDevice(ctx context.Context, id uuid.UUID) error
}
