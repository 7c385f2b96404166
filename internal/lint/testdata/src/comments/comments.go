package comments

// This comment is short enough.
var short = 1

// This comment is definitely longer than the eighty characters that are allowed. // want "Comment too long"
var long = 2

//go:generate echo this directive is ignored whatever the length of the line may be
var directive = 3
