package admin

import (
	"context"

	"AstroBot/entity"
)

type Core interface {
	RefreshResources(ctx context.Context) error
	ReloadFlows(ctx context.Context) ([]string, error)
	Diagnostics() entity.Diagnostics
}
