package membership

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Guyuepp/videohub/domain"
)

type userEmailSource struct {
	users domain.UserRepository
}

// UserEmailSource projects active users' emails.
func UserEmailSource(users domain.UserRepository) domain.MembershipSource {
	return userEmailSource{users: users}
}

func (s userEmailSource) FetchKeys(ctx context.Context, after string, limit int) ([]string, error) {
	return s.users.FetchEmails(ctx, after, limit)
}

func (s userEmailSource) Contains(ctx context.Context, email string) (bool, error) {
	return s.users.ExistsByEmail(ctx, email)
}

type videoIDSource struct {
	videos domain.VideoRepository
}

// VideoIDSource projects video ids, ordered numerically.
func VideoIDSource(videos domain.VideoRepository) domain.MembershipSource {
	return videoIDSource{videos: videos}
}

func (s videoIDSource) FetchKeys(ctx context.Context, after string, limit int) ([]string, error) {
	var cursor int64
	if after != "" {
		var err error
		if cursor, err = strconv.ParseInt(after, 10, 64); err != nil {
			return nil, fmt.Errorf("video id cursor %q: %w", after, err)
		}
	}
	ids, err := s.videos.FetchIDs(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = strconv.FormatInt(id, 10)
	}
	return keys, nil
}

func (s videoIDSource) Contains(ctx context.Context, member string) (bool, error) {
	id, err := strconv.ParseInt(member, 10, 64)
	if err != nil {
		return false, nil
	}
	return s.videos.Exists(ctx, id)
}
