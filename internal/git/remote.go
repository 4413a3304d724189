package git

import (
	"context"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
)

// RemoteHasRevision lists the remote's refs (the equivalent of git ls-remote)
// and reports whether rev names one of them or abbreviates an advertised hash.
// Commits that are reachable but not a ref tip are not advertised; callers
// combine this with a local lookup after a full fetch.
func (c *ShellClient) RemoteHasRevision(ctx context.Context, url, rev string) (bool, error) {
	auth, err := c.transportAuth(url)
	if err != nil {
		return false, err
	}

	remote := gogit.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})

	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: auth})
	if err != nil {
		return false, fmt.Errorf("git ls-remote %s failed: %w", url, err)
	}

	return refsContain(refs, rev), nil
}

// refsContain matches rev against ref names (full or short) and hashes.
func refsContain(refs []*plumbing.Reference, rev string) bool {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return false
	}
	lower := strings.ToLower(rev)
	hashLike := IsHashLike(rev)

	for _, ref := range refs {
		name := ref.Name()
		if name.String() == rev || name.Short() == rev || name.String() == "refs/heads/"+rev || name.String() == "refs/tags/"+rev {
			return true
		}
		if hashLike && ref.Type() == plumbing.HashReference && strings.HasPrefix(ref.Hash().String(), lower) {
			return true
		}
	}
	return false
}

// IsHashLike reports whether rev looks like a full or abbreviated commit hash
func IsHashLike(rev string) bool {
	if len(rev) < 7 || len(rev) > 40 {
		return false
	}
	for _, r := range rev {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// transportAuth mirrors configureAuth for the go-git transport
func (c *ShellClient) transportAuth(url string) (transport.AuthMethod, error) {
	if c.sshKeyFile != "" && isSSHURL(url) {
		auth, err := gitssh.NewPublicKeysFromFile("git", c.sshKeyFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key: %w", err)
		}
		return auth, nil
	}

	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := c.readToken()
		if err != nil {
			return nil, err
		}
		return &http.BasicAuth{Username: "x-access-token", Password: token}, nil
	}

	return nil, nil
}
