package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"sovrium/platform/tables"

	"github.com/go-chi/chi/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	expect   int
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		expect:   http.StatusOK,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

// Expect sets the status code treated as success, 200 by default.
func (r *httpTestRequest) Expect(status int) *httpTestRequest {
	r.expect = status
	return r
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != r.expect {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) request(method, endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, method, endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Get(endpoint string) *httpTestRequest    { return c.request("GET", endpoint) }
func (c *client) Post(endpoint string) *httpTestRequest   { return c.request("POST", endpoint) }
func (c *client) Patch(endpoint string) *httpTestRequest  { return c.request("PATCH", endpoint) }
func (c *client) Delete(endpoint string) *httpTestRequest { return c.request("DELETE", endpoint) }

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *client) signup(name, email, password string) (loginInfo, error) {
	body := map[string]string{"name": name, "email": email, "password": password}

	err := c.Post("/auth/sign-up").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) signin(login loginInfo) error {
	var res map[string]string
	err := c.Post("/auth/sign-in").Json(login).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res["token"]
	c.userId = res["user_id"]

	return nil
}

func (c *client) signout() error {
	return c.Post("/auth/sign-out").Do(nil)
}

func (c *client) getSession() (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.Get("/auth/get-session").Do(&res)
	return res, err
}

func (c *client) createOrg(name, slug string) (string, error) {
	body := map[string]string{"name": name, "slug": slug}

	var res map[string]string
	err := c.Post("/organizations").Json(body).Do(&res)
	return res["org_id"], err
}

func (c *client) addMember(orgId, userId, role string) error {
	body := map[string]string{"user_id": userId, "role": role}
	return c.Post(fmt.Sprintf("/organizations/%v/members", orgId)).Json(body).Do(nil)
}

func (c *client) updateMemberRole(orgId, userId, role string) error {
	body := map[string]string{"role": role}
	return c.Post(fmt.Sprintf("/organizations/%v/members/%v/role", orgId, userId)).Json(body).Do(nil)
}

func (c *client) removeMember(orgId, userId string) error {
	return c.Delete(fmt.Sprintf("/organizations/%v/members/%v", orgId, userId)).Do(nil)
}

func (c *client) deployTable(schema tables.TableSchema) (string, error) {
	body := map[string]interface{}{"schema": schema}

	var res map[string]interface{}
	err := c.Post("/tables").Json(body).Do(&res)
	tableId, _ := res["table_id"].(string)
	return tableId, err
}

func (c *client) deployOrgTable(orgId string, schema tables.TableSchema) (string, error) {
	body := map[string]interface{}{"organization_id": orgId, "schema": schema}

	var res map[string]interface{}
	err := c.Post("/tables").Json(body).Do(&res)
	tableId, _ := res["table_id"].(string)
	return tableId, err
}

func (c *client) tableInfo(tableId string) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.Get(fmt.Sprintf("/tables/%v", tableId)).Do(&res)
	return res, err
}

func (c *client) createRecord(tableId string, values map[string]interface{}) (string, error) {
	var res map[string]string
	err := c.Post(fmt.Sprintf("/tables/%v/records", tableId)).Json(values).Expect(http.StatusCreated).Do(&res)
	return res["id"], err
}

func (c *client) getRecord(tableId, recordId string) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.Get(fmt.Sprintf("/tables/%v/records/%v", tableId, recordId)).Do(&res)
	return res, err
}

func (c *client) listRecords(tableId string) ([]map[string]interface{}, error) {
	var res []map[string]interface{}
	err := c.Get(fmt.Sprintf("/tables/%v/records", tableId)).Do(&res)
	return res, err
}

func (c *client) updateRecord(tableId, recordId string, values map[string]interface{}) error {
	return c.Patch(fmt.Sprintf("/tables/%v/records/%v", tableId, recordId)).Json(values).Do(nil)
}

func (c *client) deleteRecord(tableId, recordId string) error {
	return c.Delete(fmt.Sprintf("/tables/%v/records/%v", tableId, recordId)).Do(nil)
}

func (c *client) createApiKey(name string) (keyId, key string, err error) {
	var res map[string]string
	err = c.Post("/api-keys").Json(map[string]string{"name": name}).Do(&res)
	return res["key_id"], res["key"], err
}
