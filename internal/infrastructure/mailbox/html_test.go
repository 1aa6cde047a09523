package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLToText(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>Booking</title><style>p{color:red}</style></head>
	<body>
	  <p>Guest details:</p>
	  <div>name:   <b>Jane</b><br>date: 2024-02-01</div>
	  <script>alert(1)</script>
	  <table><tr><td>Total</td><td>120 EUR</td></tr></table>
	</body></html>`

	text, err := HTMLToText(html)
	require.NoError(t, err)
	assert.Equal(t, "Guest details:\nname: Jane\ndate: 2024-02-01\nTotal120 EUR", text)
}
