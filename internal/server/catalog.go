package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"svcdesk/internal/domain"
	"svcdesk/internal/engine"
	"svcdesk/internal/repo"
)

func registerCategories(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/categories",
		Summary:     "List categories",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Category], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCategories(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-category",
		Method:      http.MethodGet,
		Path:        "/categories/{id}",
		Summary:     "Get category",
		Tags:        []string{"catalog"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Category], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCategory(ctx, nil, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-category",
		Method:        http.MethodPost,
		Path:          "/categories",
		Summary:       "Create category",
		Tags:          []string{"catalog"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.CategoryInput
	}) (*bodyOutput[domain.Category], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCategory(ctx, p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-category",
		Method:      http.MethodPut,
		Path:        "/categories/{id}",
		Summary:     "Update category",
		Tags:        []string{"catalog"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id" minimum:"1"`
		Body domain.CategoryInput
	}) (*bodyOutput[domain.Category], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCategory(ctx, p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-category",
		Method:        http.MethodDelete,
		Path:          "/categories/{id}",
		Summary:       "Delete category",
		Tags:          []string{"catalog"},
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCategory(ctx, p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSlaLevels(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sla-levels",
		Method:      http.MethodGet,
		Path:        "/sla-levels",
		Summary:     "List SLA levels",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.SlaLevel], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListSlaLevels(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sla-level",
		Method:      http.MethodGet,
		Path:        "/sla-levels/{id}",
		Summary:     "Get SLA level",
		Tags:        []string{"catalog"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.SlaLevel], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.Repo.GetSlaLevel(ctx, nil, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-sla-level",
		Method:        http.MethodPost,
		Path:          "/sla-levels",
		Summary:       "Create SLA level",
		Tags:          []string{"catalog"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.SlaLevelInput
	}) (*bodyOutput[domain.SlaLevel], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSlaLevel(ctx, p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-sla-level",
		Method:      http.MethodPut,
		Path:        "/sla-levels/{id}",
		Summary:     "Update SLA level",
		Tags:        []string{"catalog"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id" minimum:"1"`
		Body domain.SlaLevelInput
	}) (*bodyOutput[domain.SlaLevel], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSlaLevel(ctx, p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-sla-level",
		Method:        http.MethodDelete,
		Path:          "/sla-levels/{id}",
		Summary:       "Delete SLA level",
		Tags:          []string{"catalog"},
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSlaLevel(ctx, p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerServices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-services",
		Method:      http.MethodGet,
		Path:        "/services",
		Summary:     "List services",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, input *struct {
		CategoryID int64 `query:"category_id" doc:"Only services in this category"`
		Active     bool  `query:"active" doc:"Only services accepting requests"`
	}) (*bodyOutput[[]domain.Service], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListServices(ctx, repo.ServiceFilters{
			CategoryID: optionalID(input.CategoryID),
			ActiveOnly: input.Active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-service",
		Method:      http.MethodGet,
		Path:        "/services/{id}",
		Summary:     "Get service",
		Tags:        []string{"catalog"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Service], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.Repo.GetService(ctx, nil, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-service",
		Method:        http.MethodPost,
		Path:          "/services",
		Summary:       "Create service",
		Tags:          []string{"catalog"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.ServiceInput
	}) (*bodyOutput[domain.Service], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateService(ctx, p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-service",
		Method:      http.MethodPut,
		Path:        "/services/{id}",
		Summary:     "Update service",
		Tags:        []string{"catalog"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id" minimum:"1"`
		Body domain.ServiceInput
	}) (*bodyOutput[domain.Service], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateService(ctx, p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-service",
		Method:        http.MethodDelete,
		Path:          "/services/{id}",
		Summary:       "Delete service",
		Tags:          []string{"catalog"},
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteService(ctx, p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type fieldPath struct {
	ID      int64 `path:"id" minimum:"1"`
	FieldID int64 `path:"field_id" minimum:"1"`
}

func registerTemplateFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-template-fields",
		Method:      http.MethodGet,
		Path:        "/services/{id}/fields",
		Summary:     "List a service's request form fields",
		Tags:        []string{"catalog"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[[]domain.TemplateField], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetService(ctx, nil, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTemplateFields(ctx, nil, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-template-field",
		Method:        http.MethodPost,
		Path:          "/services/{id}/fields",
		Summary:       "Add form field",
		Tags:          []string{"catalog"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id" minimum:"1"`
		Body domain.TemplateFieldInput
	}) (*bodyOutput[domain.TemplateField], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.AddTemplateField(ctx, p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(f), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template-field",
		Method:      http.MethodPut,
		Path:        "/services/{id}/fields/{field_id}",
		Summary:     "Update form field",
		Tags:        []string{"catalog"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id" minimum:"1"`
		FieldID int64 `path:"field_id" minimum:"1"`
		Body    domain.TemplateFieldInput
	}) (*bodyOutput[domain.TemplateField], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.UpdateTemplateField(ctx, p, input.ID, input.FieldID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(f), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-template-field",
		Method:        http.MethodDelete,
		Path:          "/services/{id}/fields/{field_id}",
		Summary:       "Delete form field",
		Tags:          []string{"catalog"},
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *fieldPath) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTemplateField(ctx, p, input.ID, input.FieldID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
