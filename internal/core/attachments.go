package core

import (
	"assetcore/pkg/domain"
	"context"
	"errors"
	"io"
	"strings"
)

// Attachment operation names.
const (
	OpAttachFile       = "attach_file"
	OpRemoveAttachment = "remove_attachment"
	OpSetImage         = "set_image"
)

// ErrNoFileStore is returned by file operations on a service built without
// WithFileStore.
var ErrNoFileStore = errors.New("file store not configured")

// AttachFile uploads r and records it on the asset. The upload is removed
// again when the record update fails.
func (s *Service) AttachFile(ctx context.Context, session Session, assetID, filename, contentType string, r io.Reader) (Attachment, Result, error) {
	var attachment Attachment
	var res Result
	err := s.run(ctx, op{name: OpAttachFile, entity: EntityAsset, action: ActionUpdate, target: assetID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if s.files == nil {
			return "", ErrNoFileStore
		}
		if strings.TrimSpace(filename) == "" {
			return "", domain.Invalidf("file name required")
		}
		if _, err := s.GetAsset(ctx, assetID); err != nil {
			return "", err
		}
		info, err := s.files.put(ctx, r, AssetAttachmentPath(assetID, filename), contentType)
		if err != nil {
			return "", err
		}
		attachment = Attachment{
			Name:        filename,
			URL:         info.URL,
			ContentType: contentType,
			Size:        info.Size,
			UploadedAt:  s.now(),
		}
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.UpdateAsset(assetID, func(a *Asset) error {
				a.Attachments = append(a.Attachments, attachment)
				return nil
			})
			return err
		})
		if err != nil {
			s.files.DeleteAsync(info.URL)
		}
		return assetID, err
	})
	return attachment, res, err
}

// RemoveAttachment drops the attachment with the given URL from the asset and
// then deletes the file in the background.
func (s *Service) RemoveAttachment(ctx context.Context, session Session, assetID, url string) (Asset, Result, error) {
	var updated Asset
	var res Result
	err := s.run(ctx, op{name: OpRemoveAttachment, entity: EntityAsset, action: ActionUpdate, target: assetID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateAsset(assetID, func(a *Asset) error {
				kept := make([]Attachment, 0, len(a.Attachments))
				for _, att := range a.Attachments {
					if att.URL != url {
						kept = append(kept, att)
					}
				}
				if len(kept) == len(a.Attachments) {
					return domain.Invalidf("asset %s has no attachment %s", assetID, url)
				}
				a.Attachments = kept
				return nil
			})
			return err
		})
		if err == nil && s.files != nil {
			s.files.DeleteAsync(url)
		}
		return assetID, err
	})
	return updated, res, err
}

// SetImage uploads r as the asset image, replacing and then deleting any
// previous image.
func (s *Service) SetImage(ctx context.Context, session Session, assetID, filename, contentType string, r io.Reader) (Asset, Result, error) {
	var updated Asset
	var res Result
	err := s.run(ctx, op{name: OpSetImage, entity: EntityAsset, action: ActionUpdate, target: assetID, session: session}, func(ctx context.Context) (string, error) {
		if err := requireSession(session); err != nil {
			return "", err
		}
		if s.files == nil {
			return "", ErrNoFileStore
		}
		if _, err := s.GetAsset(ctx, assetID); err != nil {
			return "", err
		}
		url, err := s.files.Upload(ctx, r, AssetImagePath(assetID, filename), contentType)
		if err != nil {
			return "", err
		}
		var previous string
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateAsset(assetID, func(a *Asset) error {
				previous = a.ImageURL
				a.ImageURL = url
				return nil
			})
			return err
		})
		if err != nil {
			s.files.DeleteAsync(url)
			return assetID, err
		}
		if previous != "" && previous != url {
			s.files.DeleteAsync(previous)
		}
		return assetID, nil
	})
	return updated, res, err
}
