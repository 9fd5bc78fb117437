package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"referral-engine/models"
	"referral-engine/repository"

	"github.com/google/uuid"
)

const (
	// CodeAlphabet leaves out 0/O and 1/I so codes survive being read aloud.
	CodeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength      = 8
	MaxCodeAttempts = 10
)

var ErrCodeSpaceExhausted = errors.New("referral code space exhausted")

// CodeGenerator draws referral codes. Rand defaults to crypto/rand.
type CodeGenerator struct {
	Rand io.Reader
}

func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{Rand: rand.Reader}
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (g *CodeGenerator) draw() (string, error) {
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, CodeLength)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	// 256 is a multiple of len(CodeAlphabet), so the modulo is unbiased.
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(buf), nil
}

// Generate returns a code for which exists reports false, retrying up to MaxCodeAttempts times.
func (g *CodeGenerator) Generate(ctx context.Context, exists func(ctx context.Context, code string) (bool, error)) (string, error) {
	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code, err := g.draw()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// CreateReferral assigns a fresh code and persists the referral. The existence
// check only narrows the window; the storage unique index arbitrates, and a
// losing insert consumes an attempt and draws again.
func (g *CodeGenerator) CreateReferral(ctx context.Context, repo repository.ReferralRepository, referral *models.Referral, link func(code string) string) error {
	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code, err := g.draw()
		if err != nil {
			return err
		}
		taken, err := repo.CodeExists(ctx, code)
		if err != nil {
			return err
		}
		if taken {
			continue
		}

		if referral.ID == "" {
			referral.ID = uuid.NewString()
		}
		referral.ReferralCode = code
		referral.ReferralLink = link(code)
		err = repo.Create(ctx, referral)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return err
		}
	}
	return ErrCodeSpaceExhausted
}
