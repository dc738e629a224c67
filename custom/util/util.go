package util

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/romana/rlog"
	"gopkg.in/DATA-DOG/go-sqlmock.v1"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"preorder_hub/model"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func IsAllowHttpMethod(methods []string, w http.ResponseWriter, r *http.Request) bool {
	for _, method := range methods {
		if method == r.Method {
			return true
		}
	}
	WriteError(w, http.StatusMethodNotAllowed, "Not allow http method")
	return false
}

func FetchReqObject(r *http.Request, reqObj interface{}) error {
	if r == nil {
		return errors.New("http request is nil")
	}
	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		errInfo := "Read request body failed: " + err.Error()
		rlog.Error(errInfo)
		return errors.New(errInfo)
	}
	err = json.Unmarshal(reqBody, reqObj)
	if err != nil {
		errInfo := "Unmarshal request body failed: " + err.Error()
		rlog.Error(errInfo)
		return errors.New(errInfo)
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rlog.Error("Encode response failed:", err.Error())
	}
}

func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, ErrorResponse{Error: msg})
}

func GetStringPtr(s string) *string {
	return &s
}

// StringValue dereferences s, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DbMock For unit test usage
func DbMock(t *testing.T) (*sql.DB, *gorm.DB, sqlmock.Sqlmock) {
	sqldb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	gormdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqldb,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sqldb, gormdb, mock
}

// SqliteMock opens a migrated in-memory database private to the calling test.
func SqliteMock(t *testing.T) *gorm.DB {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gormdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := gormdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err = gormdb.AutoMigrate(model.ALL_TABLES...); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return gormdb
}

// ObjectToRows For unit test usage. Columns follow the gorm naming of the model.
func ObjectToRows(object interface{}) (*sqlmock.Rows, error) {
	s, err := schema.Parse(object, &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		return nil, err
	}
	rv := reflect.Indirect(reflect.ValueOf(object))
	columns := make([]string, 0, len(s.Fields))
	values := make([]driver.Value, 0, len(s.Fields))
	for _, field := range s.Fields {
		if field.DBName == "" {
			continue
		}
		v, _ := field.ValueOf(context.Background(), rv)
		value, err := toDriverValue(v)
		if err != nil {
			return nil, err
		}
		columns = append(columns, field.DBName)
		values = append(values, value)
	}
	return sqlmock.NewRows(columns).AddRow(values...), nil
}

func toDriverValue(v interface{}) (driver.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}
	if valuer, ok := v.(driver.Valuer); ok {
		return valuer.Value()
	}
	return v, nil
}
