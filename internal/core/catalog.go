package core

import (
	"assetcore/pkg/domain"
	"context"
	"strings"
)

// Catalog operation names.
const (
	OpCreateCategory = "create_category"
	OpUpdateCategory = "update_category"
	OpDeleteCategory = "delete_category"
	OpCreateUser     = "create_user"
	OpUpdateUser     = "update_user"
	OpDeleteUser     = "delete_user"
	OpOpenSession    = "open_session"
)

// SystemSession identifies work done by the process itself, such as seeding
// the first users.
func SystemSession() Session {
	return Session{UserID: "system", DisplayName: "system"}
}

// CreateCategory persists a new category. Codes are unique.
func (s *Service) CreateCategory(ctx context.Context, session Session, category Category) (Category, Result, error) {
	var created Category
	var res Result
	err := s.run(ctx, op{name: OpCreateCategory, entity: EntityCategory, action: ActionCreate, target: category.Code, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if strings.TrimSpace(category.Code) == "" || strings.TrimSpace(category.Name) == "" {
			return "", domain.Invalidf("category code and name required")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateCategory(category)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateCategory mutates a category.
func (s *Service) UpdateCategory(ctx context.Context, session Session, id string, mutator func(*Category) error) (Category, Result, error) {
	var updated Category
	var res Result
	err := s.run(ctx, op{name: OpUpdateCategory, entity: EntityCategory, action: ActionUpdate, target: id, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateCategory(id, mutator)
			return err
		})
		return id, err
	})
	return updated, res, err
}

// DeleteCategory removes a category no asset refers to.
func (s *Service) DeleteCategory(ctx context.Context, session Session, id string) (Result, error) {
	var res Result
	err := s.run(ctx, op{name: OpDeleteCategory, entity: EntityCategory, action: ActionDelete, target: id, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			category, ok := tx.FindCategory(id)
			if !ok {
				return &domain.NotFoundError{Entity: EntityCategory, ID: id}
			}
			for _, a := range tx.ListAssets() {
				if a.Category == category.Code {
					return domain.Invalidf("category %s is used by asset %s", category.Code, a.ID)
				}
			}
			return tx.DeleteCategory(id)
		})
		return id, err
	})
	return res, err
}

// ListCategories returns every category ordered by code.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return queryAs[Category](ctx, s, domain.Query{
		Collection: EntityCategory,
		OrderBy:    []domain.OrderBy{{Field: "code"}},
	})
}

// CreateUser maps an authentication UID to a new application user.
func (s *Service) CreateUser(ctx context.Context, session Session, user User) (User, Result, error) {
	var created User
	var res Result
	err := s.run(ctx, op{name: OpCreateUser, entity: EntityUser, action: ActionCreate, target: user.AuthUID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if strings.TrimSpace(user.AuthUID) == "" {
			return "", domain.Invalidf("auth uid required")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateUser(user)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateUser mutates a user. The auth UID mapping cannot change.
func (s *Service) UpdateUser(ctx context.Context, session Session, id string, mutator func(*User) error) (User, Result, error) {
	var updated User
	var res Result
	err := s.run(ctx, op{name: OpUpdateUser, entity: EntityUser, action: ActionUpdate, target: id, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if mutator == nil {
			return "", domain.Invalidf("mutator required")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateUser(id, func(u *User) error {
				uid := u.AuthUID
				if err := mutator(u); err != nil {
					return err
				}
				u.AuthUID = uid
				return nil
			})
			return err
		})
		return id, err
	})
	return updated, res, err
}

// DeleteUser removes a user.
func (s *Service) DeleteUser(ctx context.Context, session Session, id string) (Result, error) {
	var res Result
	err := s.run(ctx, op{name: OpDeleteUser, entity: EntityUser, action: ActionDelete, target: id, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeleteUser(id)
		})
		return id, err
	})
	return res, err
}

// ListUsers returns every user ordered by display name.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return queryAs[User](ctx, s, domain.Query{
		Collection: EntityUser,
		OrderBy:    []domain.OrderBy{{Field: "display_name"}},
	})
}

// OpenSession resolves an authentication UID to the application user acting
// in subsequent operations.
func (s *Service) OpenSession(ctx context.Context, uid string) (Session, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Session{}, domain.Invalidf("auth uid required")
	}
	var user User
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		u, ok := view.FindUserByAuthUID(uid)
		if !ok {
			return &domain.NotFoundError{Entity: EntityUser, ID: uid}
		}
		user = u
		return nil
	})
	if err != nil {
		return Session{}, classifyError(OpOpenSession, err)
	}
	return domain.SessionFromUser(user), nil
}
