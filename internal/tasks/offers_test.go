package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferLifecycle(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "owner", "Owner")
	seedUser(t, db, "w1", "Worker One")
	seedUser(t, db, "w2", "Worker Two")
	r, _, events := newTestRouter(t, db)

	task := createTestTask(t, r, "owner", "Fix the tap")

	w := doJSON(r, "POST", "/tasks/"+task.ID+"/offers", "w1", `{"offer_price":500}`)
	require.Equal(t, 200, w.Code, w.Body.String())
	var app1 Application
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &app1))

	t.Run("repeat offer by the same worker conflicts", func(t *testing.T) {
		w := doJSON(r, "POST", "/tasks/"+task.ID+"/offers", "w1", `{"offer_price":450}`)
		assert.Equal(t, 409, w.Code, w.Body.String())
	})

	t.Run("own task cannot be offered on", func(t *testing.T) {
		w := doJSON(r, "POST", "/tasks/"+task.ID+"/offers", "owner", `{"offer_price":1}`)
		assert.Equal(t, 400, w.Code)
	})

	w = doJSON(r, "POST", "/tasks/"+task.ID+"/offers", "w2", `{"offer_price":600}`)
	require.Equal(t, 200, w.Code)
	var app2 Application
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &app2))

	t.Run("accept moves the task in progress", func(t *testing.T) {
		w := doJSON(r, "POST", "/tasks/"+task.ID+"/offers/"+app1.ID+"/accept", "owner", "")
		require.Equal(t, 200, w.Code, w.Body.String())

		var status string
		require.NoError(t, db.QueryRow(`SELECT status FROM tasks WHERE id=?`, task.ID).Scan(&status))
		assert.Equal(t, "in_progress", status)
	})

	t.Run("second accept conflicts on the accepted-offer index", func(t *testing.T) {
		w := doJSON(r, "POST", "/tasks/"+task.ID+"/offers/"+app2.ID+"/accept", "owner", "")
		assert.Equal(t, 409, w.Code, w.Body.String())

		var status string
		require.NoError(t, db.QueryRow(`SELECT status FROM applications WHERE id=?`, app2.ID).Scan(&status))
		assert.Equal(t, "pending", status, "losing offer stays pending")
	})

	t.Run("only the owner accepts", func(t *testing.T) {
		w := doJSON(r, "POST", "/tasks/"+task.ID+"/offers/"+app2.ID+"/accept", "w2", "")
		assert.Equal(t, 403, w.Code)
	})

	t.Run("complete credits the accepted worker", func(t *testing.T) {
		w := doJSON(r, "POST", "/tasks/"+task.ID+"/complete", "owner", "")
		require.Equal(t, 200, w.Code, w.Body.String())

		var status string
		require.NoError(t, db.QueryRow(`SELECT status FROM tasks WHERE id=?`, task.ID).Scan(&status))
		assert.Equal(t, "completed", status)

		var jobs int
		require.NoError(t, db.QueryRow(`SELECT completed_jobs FROM users WHERE id='w1'`).Scan(&jobs))
		assert.Equal(t, 1, jobs)
	})

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.NotEmpty(t, events.inserts, "offer creation dispatched")
	assert.Len(t, events.updates, 2, "accept and complete dispatched")
}

func TestCompleteWithoutAcceptedOffer(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "owner", "Owner")
	r, _, _ := newTestRouter(t, db)

	task := createTestTask(t, r, "owner", "Paint the fence")

	w := doJSON(r, "POST", "/tasks/"+task.ID+"/complete", "owner", "")
	assert.Equal(t, 409, w.Code, w.Body.String())
}
