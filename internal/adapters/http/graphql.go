package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/plonk/internal/core/domain"
)

func sessionSource(p graphql.ResolveParams) (domain.SessionRecord, bool) {
	switch rec := p.Source.(type) {
	case domain.SessionRecord:
		return rec, true
	case *domain.SessionRecord:
		if rec != nil {
			return *rec, true
		}
	}
	return domain.SessionRecord{}, false
}

// buildSchema creates the GraphQL schema wired to the record service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	guessType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Guess",
		Fields: graphql.Fields{
			"round_index": &graphql.Field{Type: graphql.Int},
			"location":    &graphql.Field{Type: geoPointType},
			"confidence":  &graphql.Field{Type: graphql.Float},
			"answered":    &graphql.Field{Type: graphql.Boolean},
			"distance_km": &graphql.Field{Type: graphql.Float},
			"score":       &graphql.Field{Type: graphql.Int},
		},
	})

	statsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SessionStats",
		Fields: graphql.Fields{
			"rounds_played":    &graphql.Field{Type: graphql.Int},
			"rounds_answered":  &graphql.Field{Type: graphql.Int},
			"total_score":      &graphql.Field{Type: graphql.Int},
			"mean_score":       &graphql.Field{Type: graphql.Float},
			"median_score":     &graphql.Field{Type: graphql.Float},
			"best_score":       &graphql.Field{Type: graphql.Int},
			"worst_score":      &graphql.Field{Type: graphql.Int},
			"mean_distance_km": &graphql.Field{Type: graphql.Float},
			"best_distance_km": &graphql.Field{Type: graphql.Float},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"id":              &graphql.Field{Type: graphql.String},
			"backend":         &graphql.Field{Type: graphql.String},
			"map_slug":        &graphql.Field{Type: graphql.String},
			"games_played":    &graphql.Field{Type: graphql.Int},
			"rounds_per_game": &graphql.Field{Type: graphql.Int},
			"started_at": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if rec, ok := sessionSource(p); ok {
						return rec.StartedAt.Format(time.RFC3339), nil
					}
					return nil, nil
				},
			},
			"finished_at": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if rec, ok := sessionSource(p); ok && rec.FinishedAt != nil {
						return rec.FinishedAt.Format(time.RFC3339), nil
					}
					return nil, nil
				},
			},
			"stats":   &graphql.Field{Type: statsType},
			"guesses": &graphql.Field{Type: graphql.NewList(guessType)},
		},
	})

	backendStatsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "BackendStats",
		Fields: graphql.Fields{
			"backend":          &graphql.Field{Type: graphql.String},
			"sessions":         &graphql.Field{Type: graphql.Int},
			"rounds_played":    &graphql.Field{Type: graphql.Int},
			"rounds_answered":  &graphql.Field{Type: graphql.Int},
			"total_score":      &graphql.Field{Type: graphql.Int},
			"mean_score":       &graphql.Field{Type: graphql.Float},
			"best_score":       &graphql.Field{Type: graphql.Int},
			"mean_distance_km": &graphql.Field{Type: graphql.Float},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"sessions": &graphql.Field{
				Type:        graphql.NewList(sessionType),
				Description: "List played sessions, newest first",
				Args: graphql.FieldConfigArgument{
					"backend": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"limit":   &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
					"offset":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					backend := p.Args["backend"].(string)
					limit := p.Args["limit"].(int)
					offset := p.Args["offset"].(int)
					sessions, _, err := deps.Records.ListSessions(p.Context, backend, limit, offset)
					return sessions, err
				},
			},
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Get a session by ID, guesses included",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					return deps.Records.GetSession(p.Context, id)
				},
			},
			"sessionRounds": &graphql.Field{
				Type:        graphql.NewList(guessType),
				Description: "Final guesses of a session in play order",
				Args: graphql.FieldConfigArgument{
					"session_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sessionID := p.Args["session_id"].(string)
					return deps.Records.SessionRounds(p.Context, sessionID)
				},
			},
			"backendStats": &graphql.Field{
				Type:        graphql.NewList(backendStatsType),
				Description: "Aggregate scoring per inference backend",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Records.BackendStats(p.Context)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}
