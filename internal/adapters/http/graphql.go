package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

func spotToMap(s domain.Spot) map[string]any {
	return map[string]any{
		"id":       s.ID,
		"name":     s.Name,
		"category": string(s.Category),
		"location": map[string]any{"latitude": s.Location.Lat, "longitude": s.Location.Lon},
	}
}

func matchedToMaps(spots []domain.MatchedSpot) []map[string]any {
	out := make([]map[string]any, 0, len(spots))
	for _, s := range spots {
		m := spotToMap(s.Spot)
		m["distanceMeters"] = s.DistanceMeters
		out = append(out, m)
	}
	return out
}

func floatArg(p graphql.ResolveParams, name string) float64 {
	switch v := p.Args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"latitude":  &graphql.Field{Type: graphql.Float},
			"longitude": &graphql.Field{Type: graphql.Float},
		},
	})

	spotType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Spot",
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.String},
			"name":           &graphql.Field{Type: graphql.String},
			"category":       &graphql.Field{Type: graphql.String},
			"location":       &graphql.Field{Type: geoPointType},
			"distanceMeters": &graphql.Field{Type: graphql.Float},
		},
	})

	recommendationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Recommendation",
		Fields: graphql.Fields{
			"spots":    &graphql.Field{Type: graphql.NewList(spotType)},
			"fallback": &graphql.Field{Type: graphql.Boolean},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"sessionId":      &graphql.Field{Type: graphql.String},
			"lastPosition":   &graphql.Field{Type: geoPointType},
			"radiusMeters":   &graphql.Field{Type: graphql.Float},
			"lastNotifiedAt": &graphql.Field{Type: graphql.String},
			"updatedAt":      &graphql.Field{Type: graphql.String},
		},
	})

	centerArgs := graphql.FieldConfigArgument{
		"latitude":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
		"longitude": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
		"radius":    &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 0.0},
	}
	withArg := func(name string, arg *graphql.ArgumentConfig) graphql.FieldConfigArgument {
		out := graphql.FieldConfigArgument{name: arg}
		for k, v := range centerArgs {
			out[k] = v
		}
		return out
	}
	center := func(p graphql.ResolveParams) domain.GeoPoint {
		return domain.GeoPoint{Lat: floatArg(p, "latitude"), Lon: floatArg(p, "longitude")}
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"spotsNearby": &graphql.Field{
				Type:        graphql.NewList(spotType),
				Description: "Spots within radius meters of a point, nearest first",
				Args:        withArg("limit", &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: defaultPageLimit}),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					limit, _ := p.Args["limit"].(int)
					spots, err := deps.Spots.FindNearby(p.Context, center(p), floatArg(p, "radius"), limit)
					if err != nil {
						return nil, err
					}
					return matchedToMaps(spots), nil
				},
			},
			"recommendations": &graphql.Field{
				Type:        recommendationType,
				Description: "Spots in range, or the nearest ones when nothing is in range",
				Args: withArg("fallback", &graphql.ArgumentConfig{
					Type:         graphql.Int,
					DefaultValue: deps.Proximity.RecommendationFallback,
				}),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					fallback, _ := p.Args["fallback"].(int)
					fallback = min(max(fallback, 0), maxPageLimit)
					rec, err := deps.Spots.Recommend(p.Context, center(p), floatArg(p, "radius"), fallback)
					if err != nil {
						return nil, err
					}
					return map[string]any{"spots": matchedToMaps(rec.Spots), "fallback": rec.Fallback}, nil
				},
			},
			"spot": &graphql.Field{
				Type:        spotType,
				Description: "Get a spot by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					id, _ := p.Args["id"].(string)
					spot, err := deps.Spots.GetByID(p.Context, id)
					if err != nil {
						return nil, err
					}
					return spotToMap(*spot), nil
				},
			},
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Get a tracked session by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					id, _ := p.Args["id"].(string)
					s, err := deps.Discovery.Session(id)
					if err != nil {
						return nil, err
					}
					m := map[string]any{
						"sessionId":    s.SessionID,
						"lastPosition": map[string]any{"latitude": s.LastPosition.Lat, "longitude": s.LastPosition.Lon},
						"radiusMeters": s.RadiusMeters,
						"updatedAt":    s.UpdatedAt.UTC().Format(time.RFC3339),
					}
					if s.LastNotifiedAt != nil {
						m["lastNotifiedAt"] = s.LastNotifiedAt.UTC().Format(time.RFC3339)
					}
					return m, nil
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
		Query         string         `json:"query"`
		OperationName string         `json:"operationName"`
		Variables     map[string]any `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil || req.Query == "" {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
