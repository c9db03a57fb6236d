package gatekeeper

import (
	"context"

	"github.com/error2913/QQ-add-group-verification/internal/onebot"
)

// PolicyStore is the whitelist and per-group policy collaborator.
type PolicyStore interface {
	ListMonitoredGroups(ctx context.Context) ([]int64, error)
	IsMonitored(ctx context.Context, groupID int64) (bool, error)
	Threshold(ctx context.Context, groupID int64) (int, error)
	TimeoutSeconds(ctx context.Context, groupID int64) (int, error)
	AddGroup(ctx context.Context, groupID int64) (bool, error)
	RemoveGroup(ctx context.Context, groupID int64) (bool, error)
	SetThreshold(ctx context.Context, groupID int64, threshold int) (bool, error)
	SetTimeout(ctx context.Context, groupID int64, seconds int) (bool, error)
}

// Gateway is the subset of gateway RPCs the gatekeeper issues.
type Gateway interface {
	GetStrangerInfo(ctx context.Context, userID int64) (onebot.StrangerInfo, error)
	SetGroupKick(ctx context.Context, groupID, userID int64) error
	SendGroupMsg(ctx context.Context, groupID int64, message string) error
}
