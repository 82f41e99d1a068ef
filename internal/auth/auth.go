// Package auth resolves the Gemini API key for command-line use.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".collision-estimator"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// ErrNoKey is returned when no source holds a key.
var ErrNoKey = errors.New("API key not found: set GEMINI_API_KEY, gemini.api_key, or ~/" + credentialDir + "/" + credentialFile)

// Resolver finds the API key. Configured wins over the encrypted file.
type Resolver struct {
	// Home is the directory holding the credentials folder.
	Home string
	// PassphraseDirs are searched in order for a passphrase file.
	PassphraseDirs []string
	// decrypt runs gpg; tests replace it.
	decrypt func(args []string) ([]byte, error)
}

// NewResolver looks in the user's home directory and accepts a passphrase
// file next to the executable or in the working directory.
func NewResolver() *Resolver {
	home, _ := os.UserHomeDir()
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return &Resolver{Home: home, PassphraseDirs: dirs}
}

// APIKey returns configured when non-empty, else the decrypted file.
func (r *Resolver) APIKey(configured string) (string, error) {
	if configured != "" {
		log.Debug().Msg("Using API key from configuration")
		return configured, nil
	}
	key, err := r.fromGPG()
	if err != nil {
		log.Debug().Err(err).Msg("No API key in GPG credentials")
		return "", fmt.Errorf("%w (%v)", ErrNoKey, err)
	}
	if key == "" {
		return "", ErrNoKey
	}
	log.Debug().Msg("Using API key from GPG encrypted file")
	return key, nil
}

// CredentialPath is the encrypted key location.
func (r *Resolver) CredentialPath() string {
	return filepath.Join(r.Home, credentialDir, credentialFile)
}

func (r *Resolver) fromGPG() (string, error) {
	credPath := r.CredentialPath()
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}
	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}
	if p := r.passphrasePath(); p != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", p)
	}
	args = append(args, credPath)

	decrypt := r.decrypt
	if decrypt == nil {
		decrypt = runGPG
	}
	out, err := decrypt(args)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// passphrasePath returns the first owner-only passphrase file found.
func (r *Resolver) passphrasePath() string {
	for _, dir := range r.PassphraseDirs {
		p := filepath.Join(dir, passphraseFile)
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0o077 != 0 {
			log.Warn().
				Str("passphrase_file", p).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return p
	}
	return ""
}

func runGPG(args []string) ([]byte, error) {
	out, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("GPG decryption failed: %w", err)
	}
	return out, nil
}
