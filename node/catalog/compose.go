package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	compose "github.com/compose-spec/compose-go/v2/types"

	"undocked"
)

// Labels read from compose services.
const (
	LabelRecommended = "undocked.recommended"
	LabelExposeHTTP  = "undocked.expose-http"
	LabelAuth        = "undocked.auth-required"
	LabelRateLimit   = "undocked.rate-limit-per-min"
)

const composeProject = "undocked"

var composeNames = []string{"compose.yaml", "compose.yml", "docker-compose.yaml", "docker-compose.yml"}

func isComposeFile(path string) bool {
	return slices.Contains(composeNames, strings.ToLower(filepath.Base(path)))
}

// ParseCompose builds a catalog from a compose document: one profile per
// service, named after it. The container port is the target of the first
// published port.
func ParseCompose(ctx context.Context, data []byte) (*Catalog, error) {
	details := compose.ConfigDetails{
		ConfigFiles: []compose.ConfigFile{{Filename: composeNames[0], Content: data}},
	}
	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(composeProject, true)
	})
	if err != nil {
		return nil, fmt.Errorf("parse compose catalog: %w", err)
	}
	if len(project.Services) == 0 {
		return nil, fmt.Errorf("compose catalog has no services")
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	slices.Sort(names)

	profiles := make([]undocked.ServiceProfile, 0, len(names))
	for _, name := range names {
		p, err := profileFromService(name, project.Services[name])
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return newCatalog(profiles)
}

func profileFromService(name string, svc compose.ServiceConfig) (undocked.ServiceProfile, error) {
	p := undocked.ServiceProfile{
		Name:         name,
		Image:        svc.Image,
		Command:      slices.Clone([]string(svc.Command)),
		Recommended:  labelBool(svc.Labels, LabelRecommended),
		ExposeHTTP:   labelBool(svc.Labels, LabelExposeHTTP),
		AuthRequired: labelBool(svc.Labels, LabelAuth),
	}
	if len(svc.Ports) > 0 {
		p.ContainerPort = int(svc.Ports[0].Target)
	}
	if len(svc.Environment) > 0 {
		p.Env = make(map[string]string, len(svc.Environment))
		for k, v := range svc.Environment {
			if v != nil {
				p.Env[k] = *v
			}
		}
	}
	if raw, ok := svc.Labels[LabelRateLimit]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return undocked.ServiceProfile{}, fmt.Errorf("profile %q: label %s: %w", name, LabelRateLimit, err)
		}
		p.RateLimitPerMin = n
	}
	return p, nil
}

func labelBool(labels compose.Labels, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(labels[key]))
	return err == nil && v
}
