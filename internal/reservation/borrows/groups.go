package borrows

import (
	"context"

	"LERS-backend/internal/platform/apierr"
	"LERS-backend/internal/platform/auth"
)

// GET /borrow-groups/:group_id
//
// 参加者は名簿（borrow_group_mates）から重複なく名簿順で返す。
// 借用者は閲覧可否にだけ効き、参加者一覧には足さない
func (s *Service) FetchGroup(ctx context.Context, actor auth.Actor, groupID string) (GroupResponse, error) {
	if actor.UserID == "" {
		return GroupResponse{}, apierr.ErrUnauthorized("authentication required")
	}
	if !validID(groupID) {
		return GroupResponse{}, apierr.ErrInvalid("invalid group_id")
	}
	rows, err := s.store.ListByGroup(ctx, groupID)
	if err != nil {
		return GroupResponse{}, err
	}
	if len(rows) == 0 {
		return GroupResponse{}, apierr.ErrNotFound("borrow group not found")
	}
	mates, err := s.store.ListGroupMates(ctx, groupID)
	if err != nil {
		return GroupResponse{}, err
	}

	g := &Group{GroupID: groupID, Borrows: rows, Mates: mates}
	if !CanViewGroup(actor, g) {
		return GroupResponse{}, apierr.ErrForbidden("not a participant of this group")
	}

	now := s.clock.Now()
	resp := GroupResponse{
		BorrowGroupID: groupID,
		Borrows:       make([]BorrowResponse, 0, len(rows)),
		Participants:  participants(g),
	}
	for i := range rows {
		resp.Borrows = append(resp.Borrows, toResponse(&rows[i], now))
	}
	return resp, nil
}

func participants(g *Group) []UserSummary {
	out := make([]UserSummary, 0, len(g.Mates))
	seen := make(map[string]struct{}, len(g.Mates))
	for _, m := range g.Mates {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m)
	}
	return out
}
