package room

// userColors is the cursor color palette. Colors are assigned by join
// index so concurrently-present users get distinct colors until the
// palette wraps.
var userColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#F8B739", "#52B788", "#E76F51", "#2A9D8F",
}

func colorForIndex(i int) string {
	return userColors[i%len(userColors)]
}
