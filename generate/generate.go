// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

// Package generate produces a structured resume tailored to a job
// description. The current implementation is a deterministic mock standing in
// for an external model call; callers must treat an error here as fatal for
// the request and must not consume quota when one occurs.
package generate

import (
	"context"
	"fmt"
	"strings"
)

const summaryPreviewLen = 100

// PersonalInfo is the contact block of a generated resume.
type PersonalInfo struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
}

// Experience is one work history entry.
type Experience struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Duration    string `json:"duration"`
	Description string `json:"description"`
}

// Education is one education entry.
type Education struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	Year        string `json:"year"`
}

// Resume is the structured generation output.
type Resume struct {
	PersonalInfo PersonalInfo `json:"personalInfo"`
	Summary      string       `json:"summary"`
	Experience   []Experience `json:"experience"`
	Education    []Education  `json:"education"`
	Skills       []string     `json:"skills"`
}

// Generator produces a tailored resume from source text and a job description.
type Generator interface {
	Generate(ctx context.Context, resumeText, jobDescription string) (*Resume, error)
}

// Mock is the stand-in generator. Output is deterministic for a given job
// description so handler behavior is testable.
type Mock struct{}

// NewMock creates the mock generator.
func NewMock() *Mock {
	return &Mock{}
}

var _ Generator = (*Mock)(nil)

// Generate implements Generator.
func (m *Mock) Generate(ctx context.Context, resumeText, jobDescription string) (*Resume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(jobDescription) == "" {
		return nil, fmt.Errorf("job description is required")
	}

	preview := jobDescription
	if len(preview) > summaryPreviewLen {
		preview = preview[:summaryPreviewLen]
	}

	return &Resume{
		PersonalInfo: PersonalInfo{
			Name:     "John Doe",
			Email:    "john.doe@email.com",
			Phone:    "(555) 123-4567",
			Location: "New York, NY",
		},
		Summary: fmt.Sprintf("Professional with experience tailored for: %s...", preview),
		Experience: []Experience{
			{
				Title:       "Senior Developer",
				Company:     "Tech Company",
				Duration:    "2020-2024",
				Description: "Led development projects with focus on technologies mentioned in job description.",
			},
		},
		Education: []Education{
			{
				Degree:      "Bachelor of Computer Science",
				Institution: "University",
				Year:        "2020",
			},
		},
		Skills: []string{"JavaScript", "React", "Node.js", "Python", "SQL"},
	}, nil
}
