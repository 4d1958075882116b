package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trainBody struct {
	DatasetName string             `json:"dataset_name" validate:"required,resource_name"`
	NDays       int                `json:"n_days" validate:"required,gte=1,lte=30"`
	Sort        string             `json:"sort" default:"date_desc" validate:"oneof=date_desc none"`
	Metrics     map[string]float64 `json:"metrics" validate:"omitempty,min=1"`
}

func bindJSON(t *testing.T, body string, dst interface{}) interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	return ReadAndValidateRequest(c, dst)
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	var req trainBody
	require.Nil(t, bindJSON(t, `{"dataset_name":"btc_daily","n_days":3}`, &req))
	assert.Equal(t, "date_desc", req.Sort)
}

func TestReadAndValidateRequestMessages(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		code   string
		field  string
		msg    string
		params map[string]interface{}
	}{
		{"missing name", `{"n_days":3}`, "ERR_REQUIRED", "dataset_name", "dataset_name is required", nil},
		{"path name", `{"dataset_name":"../etc","n_days":3}`, "ERR_RESOURCE_NAME", "dataset_name",
			"dataset_name must start with a letter or digit and contain only letters, digits, '_' or '-' (max 128)", nil},
		{"horizon", `{"dataset_name":"btc","n_days":31}`, "ERR_LTE", "n_days", "n_days must be at most 30",
			map[string]interface{}{"max": "30"}},
		{"sort", `{"dataset_name":"btc","n_days":1,"sort":"asc"}`, "ERR_ONEOF", "sort", "sort must be one of: date_desc, none",
			map[string]interface{}{"options": []string{"date_desc", "none"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req trainBody
			out := bindJSON(t, tt.body, &req)
			verrs, ok := out.([]ValidationError)
			require.True(t, ok)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.code, verrs[0].Code)
			assert.Equal(t, tt.field, verrs[0].Field)
			assert.Equal(t, tt.msg, verrs[0].Message)
			assert.Equal(t, tt.params, verrs[0].Params)
		})
	}
}

func TestReadAndValidateRequestBindFailure(t *testing.T) {
	var req trainBody
	verrs, ok := bindJSON(t, `{"n_days":"three"}`, &req).([]ValidationError)
	require.True(t, ok)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_BIND", verrs[0].Code)
}
