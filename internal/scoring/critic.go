package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/gate"
)

const criticMaxParseRetries = 2

type scoreReply struct {
	Score *float64 `json:"score"`
}

// askScore asks the engine for {"score": n} and validates the range.
func askScore(ctx context.Context, e engine.Engine, system, prompt string) (float64, error) {
	var reply scoreReply
	err := engine.GenerateStructured(ctx, e, prompt, engine.StructuredOptions{
		System:          system,
		Temperature:     0,
		MaxParseRetries: criticMaxParseRetries,
	}, &reply)
	if err != nil {
		return 0, err
	}
	if reply.Score == nil {
		return 0, fmt.Errorf("%w: reply has no score", engine.ErrParse)
	}
	return *reply.Score, nil
}

// AuthenticityScorer asks an LLM critic whether the draft reads like it
// was written by a practitioner.
type AuthenticityScorer struct {
	engine engine.Engine
}

func NewAuthenticityScorer(e engine.Engine) *AuthenticityScorer {
	return &AuthenticityScorer{engine: e}
}

func (s *AuthenticityScorer) Name() string { return gate.DimAuthenticity }

func (s *AuthenticityScorer) Score(ctx context.Context, in Input) (float64, error) {
	system := "You are a skeptical senior engineer reviewing marketing copy."
	prompt := "Rate from 0 to 10 how authentic this text sounds, where 10 reads like a practitioner " +
		"describing their own experience and 0 reads like generic marketing.\n\nText:\n" + in.Content +
		"\n\nReturn {\"score\": <number>}."
	return askScore(ctx, s.engine, system, prompt)
}

// Persona is one simulated reader on the persona committee.
type Persona struct {
	Name        string
	Description string
}

// DefaultPersonas is the committee used when none is configured.
var DefaultPersonas = []Persona{
	{Name: "platform_engineer", Description: "a platform engineer who owns CI/CD and Kubernetes clusters and distrusts vendor claims"},
	{Name: "engineering_manager", Description: "an engineering manager who cares about team time, on-call load and delivery risk"},
	{Name: "security_lead", Description: "a security lead who wants specifics about data handling and access control"},
}

// PersonaCommittee scores a draft with one LLM critic per persona and
// averages the critics that succeeded. It fails only if no critic
// succeeds or the committee is empty.
type PersonaCommittee struct {
	engine   engine.Engine
	personas []Persona
	logger   *slog.Logger
}

func NewPersonaCommittee(e engine.Engine, personas []Persona) *PersonaCommittee {
	return &PersonaCommittee{engine: e, personas: personas, logger: slog.Default()}
}

func (c *PersonaCommittee) Name() string { return gate.DimPersona }

func (c *PersonaCommittee) Score(ctx context.Context, in Input) (float64, error) {
	if len(c.personas) == 0 {
		return 0, errors.New("persona committee is empty")
	}

	var (
		mu     sync.Mutex
		sum    float64
		ok     int
		wg     sync.WaitGroup
		errMsg []string
	)
	for _, p := range c.personas {
		wg.Add(1)
		go func(p Persona) {
			defer wg.Done()
			v, err := c.critique(ctx, p, in.Content)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Debug("persona critic failed", "persona", p.Name, "error", err)
				errMsg = append(errMsg, p.Name+": "+err.Error())
				return
			}
			sum += clamp(v)
			ok++
		}(p)
	}
	wg.Wait()

	if ok == 0 {
		return 0, fmt.Errorf("all persona critics failed: %s", strings.Join(errMsg, "; "))
	}
	return sum / float64(ok), nil
}

func (c *PersonaCommittee) critique(ctx context.Context, p Persona, content string) (float64, error) {
	system := "You are " + p.Description + "."
	prompt := "Rate from 0 to 10 how convincing and useful this text is to you personally.\n\nText:\n" +
		content + "\n\nReturn {\"score\": <number>}."
	return askScore(ctx, c.engine, system, prompt)
}
