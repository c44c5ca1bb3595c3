package builder

// WelcomeDocument is the seed snapshot of a new session.
const WelcomeDocument = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>livepage</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <link rel="preconnect" href="https://fonts.googleapis.com">
    <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
    <link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;500;700&display=swap" rel="stylesheet">
    <style>body { font-family: 'Inter', sans-serif; }</style>
</head>
<body class="bg-gray-100 text-gray-800">
    <div class="container mx-auto px-4 py-8 flex flex-col items-center justify-center min-h-screen text-center">
        <h1 class="text-5xl font-bold mb-4">Welcome to livepage</h1>
        <p class="text-xl text-gray-600">Describe a website, pick a model and press "Generate" to watch it being built.</p>
    </div>
</body>
</html>`
