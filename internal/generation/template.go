package generation

import (
	"context"
	"fmt"
	"strings"

	"stepline/internal/domain"
)

// TemplateBackend renders a fixed markdown skeleton per step. It needs no
// network access and is the default when no model endpoint is configured.
type TemplateBackend struct{}

func (TemplateBackend) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	idea := strings.TrimSpace(req.Prompt)
	if idea == "" {
		idea = "the requested functionality"
	}
	switch req.Step {
	case domain.StepAnalysis:
		return fmt.Sprintf(analysisTemplate, idea), nil
	case domain.StepArchitecture:
		return architectureTemplate, nil
	case domain.StepPlanning:
		return planningTemplate, nil
	case domain.StepOptimization:
		return fmt.Sprintf(optimizationTemplate,
			inputPath(req.Inputs, domain.StepAnalysis),
			inputPath(req.Inputs, domain.StepArchitecture),
			inputPath(req.Inputs, domain.StepPlanning),
			inputPath(req.Inputs, domain.StepArchitecture),
			inputPath(req.Inputs, domain.StepPlanning),
		), nil
	}
	return "", fmt.Errorf("invalid step %q", req.Step)
}

func inputPath(inputs []Input, step domain.StepID) string {
	for _, in := range inputs {
		if in.Step == step {
			return in.Path
		}
	}
	return "Not available"
}

const analysisTemplate = `# Requirements Analysis

## Executive Summary
This project involves creating %s.

## Business Requirements
- Target users: General users who need this functionality
- Primary goal: Deliver a functional and user-friendly application

## Functional Requirements
- Core functionality as described in the project idea
- Intuitive user interface
- Responsive design

## Technical Requirements
- Modern web technologies
- Cross-browser compatibility
- Mobile responsiveness

## Implementation Approach
- Use proven technologies and frameworks
- Follow established conventions for code organization
- Ensure good user experience
`

const architectureTemplate = `# Technical Architecture

## System Overview
This document outlines the technical architecture for the project.

## Technology Stack
- **Frontend**: Modern web technologies (React/Vue/Angular)
- **Backend**: RESTful API architecture
- **Database**: Appropriate database solution
- **Infrastructure**: Cloud-ready deployment

## System Components
1. **User Interface Layer**
   - Responsive web interface
   - Mobile-friendly design
   - User authentication and authorization

2. **Application Layer**
   - Business logic implementation
   - API endpoints
   - Data validation

3. **Data Layer**
   - Database design
   - Data models
   - Storage optimization

## Security Considerations
- Input validation and sanitization
- Authentication and authorization
- Secure data transmission
`

const planningTemplate = `# Implementation Planning

## Project Overview
Detailed implementation plan for the project development.

## Development Phases

### Phase 1: Foundation Setup
- [ ] Project initialization and setup
- [ ] Development environment configuration
- [ ] Basic project structure
- [ ] Initial dependencies and tools

### Phase 2: Core Development
- [ ] Database schema design and implementation
- [ ] Backend API development
- [ ] Frontend component development
- [ ] User authentication system

### Phase 3: Feature Implementation
- [ ] Core business logic
- [ ] User interface completion
- [ ] Integration testing
- [ ] Performance optimization

### Phase 4: Testing & Deployment
- [ ] Comprehensive testing suite
- [ ] Bug fixes and refinements
- [ ] Production deployment setup
`

const optimizationTemplate = `# Final Optimized Prompt

## Project Context
This is the final optimized prompt generated from the complete project analysis, architecture design, and implementation planning.

## File References
- Analysis: %s
- Architecture: %s
- Planning: %s

## Comprehensive Project Prompt

### Project Overview
Create a modern, scalable application following the specifications outlined in the project files.

### Technical Requirements
- Follow the architecture defined in %s
- Implement the tasks outlined in %s
- Ensure all business requirements are met

### Implementation Guidelines
1. Use modern development practices
2. Implement comprehensive error handling
3. Follow security best practices
4. Ensure code maintainability and scalability
5. Include appropriate testing strategies

### CODING PROTOCOL ###
Development Guidelines:
- Use minimal code to complete current task
- No large-scale refactoring
- No unrelated edits, focus on current development task
- Code must be precise, modular, and testable
- Do not break existing functionality
`
