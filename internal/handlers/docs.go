package handlers

import (
	"encoding/json"
	"net/http"
)

func queryParam(name, description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func pathParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      map[string]string{"type": "string"},
	}
}

func jsonResponse(description string, schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

var (
	stringSchema  = map[string]string{"type": "string"}
	integerSchema = map[string]string{"type": "integer"}
	stringArray   = map[string]interface{}{"type": "array", "items": stringSchema}
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the District Insights API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	errorResponse := jsonResponse("Error", ref("Error"))
	district := pathParam("name", "District name as listed by /api/districts")

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "District Insights API",
			"description": "Explore district performance data, adjust district and grade level features, and retrieve predicted score changes",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/districts": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "List selectable districts",
					"responses": map[string]interface{}{
						"200": jsonResponse("District names", map[string]interface{}{
							"type":       "object",
							"properties": map[string]interface{}{"districts": stringArray},
						}),
						"502": errorResponse,
					},
				},
			},
			"/api/districts/{name}/select": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Select a district",
					"description": "Selects the district on the prediction backend, then loads its important features",
					"parameters":  []interface{}{district},
					"responses": map[string]interface{}{
						"200": jsonResponse("Selection with the labels of both adjustment groups", ref("Selection")),
						"409": errorResponse,
						"502": errorResponse,
					},
				},
			},
			"/api/districts/{name}/data": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Page through the selected district's rows",
					"parameters": []interface{}{
						district,
						queryParam("search", "Case-insensitive substring matched against every display column", map[string]interface{}{"type": "string"}),
						queryParam("sort", "Sort keys, e.g. math:desc,year", map[string]interface{}{"type": "string"}),
						queryParam("page", "Page number (default: 1)", map[string]interface{}{"type": "integer", "default": 1}),
						queryParam("limit", "Rows per page (default: 10)", map[string]interface{}{"type": "integer", "default": 10}),
						queryParam("columns", "Comma separated visible columns (grade, year, math, rla)", map[string]interface{}{"type": "string"}),
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Table page", ref("TablePage")),
						"400": errorResponse,
						"409": jsonResponse("District is not the session's selection", ref("Error")),
					},
				},
			},
			"/api/districts/{name}/stats": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Yearly district averages",
					"parameters": []interface{}{
						district,
						queryParam("year", "Filter by year", map[string]interface{}{"type": "integer"}),
						queryParam("page", "Page number (default: 1)", map[string]interface{}{"type": "integer", "default": 1}),
						queryParam("limit", "Records per page (default: 100)", map[string]interface{}{"type": "integer", "default": 100}),
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Statistics", map[string]interface{}{"type": "object"}),
						"404": errorResponse,
						"503": errorResponse,
					},
				},
			},
			"/api/adjustments": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Submit adjustments for the selected district",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{"schema": ref("Adjustments")},
						},
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Submitted payload", map[string]interface{}{"type": "object"}),
						"409": errorResponse,
						"422": jsonResponse("Invalid fields", ref("ValidationError")),
						"502": errorResponse,
					},
				},
			},
			"/api/adjustments/random": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Fill both groups with random values in [-100, 100]",
					"responses": map[string]interface{}{
						"200": jsonResponse("Generated values", ref("Adjustments")),
					},
				},
			},
			"/api/prediction": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Predicted percentage changes for the last submission",
					"responses": map[string]interface{}{
						"200": jsonResponse("Prediction, N/A for absent figures", ref("Prediction")),
						"502": errorResponse,
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check",
					"responses": map[string]interface{}{
						"200": jsonResponse("API is healthy", map[string]interface{}{
							"type":       "object",
							"properties": map[string]interface{}{"status": stringSchema},
						}),
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Prometheus metrics",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{"schema": stringSchema},
							},
						},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   stringSchema,
						"message": stringSchema,
						"code":    integerSchema,
					},
				},
				"ValidationError": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   stringSchema,
						"message": stringSchema,
						"code":    integerSchema,
						"group":   stringSchema,
						"fields": map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"field":   stringSchema,
									"index":   integerSchema,
									"value":   stringSchema,
									"message": stringSchema,
								},
							},
						},
					},
				},
				"Selection": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"district":        stringSchema,
						"message":         stringSchema,
						"district_labels": stringArray,
						"grade_labels":    stringArray,
						"rows":            integerSchema,
					},
				},
				"TablePage": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"data":        map[string]interface{}{"type": "array", "items": map[string]string{"type": "object"}},
						"total":       integerSchema,
						"page":        integerSchema,
						"limit":       integerSchema,
						"total_pages": integerSchema,
						"district":    stringSchema,
						"message":     stringSchema,
					},
				},
				"Adjustments": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"district": map[string]interface{}{"type": "array", "items": stringSchema, "minItems": 10, "maxItems": 10},
						"grade":    map[string]interface{}{"type": "array", "items": stringSchema, "minItems": 2, "maxItems": 2},
					},
				},
				"Prediction": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"district":                        stringSchema,
						"districtPercentIncrease":         stringSchema,
						"similarDistrictsPercentIncrease": stringSchema,
						"statePercentIncrease":            stringSchema,
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
