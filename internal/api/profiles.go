package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/screenscribe/internal/api/models"
	"github.com/smazurov/screenscribe/internal/profiles"
)

func (s *Server) registerProfileRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/api/profiles",
		Summary:     "List Profiles",
		Description: "Named session presets from the profiles file",
		Tags:        []string{"profiles"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ProfileListResponse, error) {
		var list []profiles.Profile
		if s.profiles != nil {
			list = s.profiles.List()
		}
		data := make([]models.ProfileData, len(list))
		for i, p := range list {
			data[i] = profileData(p)
		}
		return &models.ProfileListResponse{
			Body: models.ProfileListData{Profiles: data, Count: len(data)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/api/profiles/{name}",
		Summary:     "Get Profile",
		Tags:        []string{"profiles"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*models.ProfileResponse, error) {
		if s.profiles == nil {
			return nil, huma.Error404NotFound(profiles.ErrProfileNotFound.Error())
		}
		p, err := s.profiles.Get(input.Name)
		if err != nil {
			return nil, s.mapProfileError(err)
		}
		return &models.ProfileResponse{Body: profileData(p)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "put-profile",
		Method:      http.MethodPut,
		Path:        "/api/profiles/{name}",
		Summary:     "Save Profile",
		Description: "Create or replace a profile and write the profiles file",
		Tags:        []string{"profiles"},
		Errors:      []int{400, 401, 422, 501},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ProfilePutRequest) (*models.ProfileResponse, error) {
		if s.profiles == nil {
			return nil, huma.Error501NotImplemented("no profiles file configured")
		}
		p := profiles.Profile{
			Name:        input.Name,
			Description: input.Body.Description,
			Mode:        input.Body.Mode,
			Prompt:      input.Body.Prompt,
			Recording:   input.Body.Recording,
		}
		if input.Body.Window != "" {
			window, err := parseWindow(input.Body.Window)
			if err != nil {
				return nil, huma.Error400BadRequest(err.Error(), err)
			}
			p.Window = profiles.Duration(window)
		}
		if err := s.profiles.Put(p); err != nil {
			return nil, s.mapProfileError(err)
		}
		return &models.ProfileResponse{Body: profileData(p)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-profile",
		Method:        http.MethodDelete,
		Path:          "/api/profiles/{name}",
		Summary:       "Delete Profile",
		Tags:          []string{"profiles"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 501},
		Security:      withAuth(),
	}, func(_ context.Context, input *models.ProfilePath) (*struct{}, error) {
		if s.profiles == nil {
			return nil, huma.Error501NotImplemented("no profiles file configured")
		}
		if err := s.profiles.Delete(input.Name); err != nil {
			return nil, s.mapProfileError(err)
		}
		return nil, nil
	})
}

func profileData(p profiles.Profile) models.ProfileData {
	d := models.ProfileData{
		Name:        p.Name,
		Description: p.Description,
		Mode:        p.Mode,
		Prompt:      p.Prompt,
		Recording:   p.Recording,
	}
	if w := p.WindowDuration(); w > 0 {
		d.Window = w.String()
	}
	return d
}

func (s *Server) mapProfileError(err error) error {
	switch {
	case errors.Is(err, profiles.ErrProfileNotFound):
		return huma.Error404NotFound(err.Error(), err)
	case errors.Is(err, profiles.ErrInvalidProfile):
		return huma.Error422UnprocessableEntity(err.Error(), err)
	}
	s.logger.Error("Profile store failed", "error", err)
	return huma.Error500InternalServerError("failed to update profiles", err)
}
